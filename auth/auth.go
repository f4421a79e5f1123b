package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"github.com/kuttab/polls/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

const contextKey = "identity"

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

type Identity struct {
	UserId string
	Role   string
}

// IsModerator reports whether the identity may act on content it does not own.
func (i Identity) IsModerator() bool {
	return i.Role == RoleModerator || i.Role == RoleAdmin
}

type Claims struct {
	UserId string `json:"userId"`
	Role   string `json:"role"`
	jwt.StandardClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs an HS256 token for the user.
func (a *Authenticator) IssueToken(userId, role string, ttl time.Duration) (string, error) {
	if role == "" {
		role = RoleUser
	}
	now := time.Now()
	claims := Claims{
		UserId: userId,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Verify(token string) (Identity, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		var validationErr *jwt.ValidationError
		if errors.As(err, &validationErr) && validationErr.Errors&jwt.ValidationErrorExpired != 0 {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if claims.UserId == "" {
		return Identity{}, ErrInvalidToken
	}

	role := claims.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserId: claims.UserId, Role: role}, nil
}

// RequireAuth resolves the caller from the Authorization header, the token
// query parameter or the token cookie, in that order.
func (a *Authenticator) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": ErrMissingToken.Error()})
			return
		}

		identity, err := a.Verify(token)
		if err != nil {
			logging.Logger.WithFields(logrus.Fields{"module": "auth", "method": "RequireAuth", "error": err}).Debug("rejected token")
			message := ErrInvalidToken.Error()
			if errors.Is(err, ErrTokenExpired) {
				message = ErrTokenExpired.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
			return
		}

		c.Set(contextKey, identity)
		c.Next()
	}
}

// CurrentUser returns the identity set by RequireAuth.
func CurrentUser(c *gin.Context) Identity {
	if value, ok := c.Get(contextKey); ok {
		if identity, ok := value.(Identity); ok {
			return identity
		}
	}
	return Identity{}
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	if token, err := c.Cookie("token"); err == nil {
		return token
	}
	return ""
}
