package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/kuttab/polls/auth"
	"github.com/kuttab/polls/logging"
	"github.com/kuttab/polls/service"
	"github.com/kuttab/polls/sse"
	"github.com/sirupsen/logrus"
)

const requestIdHeader = "X-Request-Id"

type handler struct {
	polls  *service.PollService
	broker *sse.Broker
}

// NewRouter wires the poll routes. Everything except the health check needs
// an authenticated caller.
func NewRouter(polls *service.PollService, authenticator *auth.Authenticator, broker *sse.Broker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestId(), requestLogger())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
	})

	h := &handler{polls: polls, broker: broker}
	g := r.Group("/polls", authenticator.RequireAuth())
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/search", h.search)
	g.GET("/active", h.active)
	g.GET("/stats", h.stats)
	g.GET("/:id", h.get)
	g.GET("/:id/results", h.results)
	g.GET("/:id/my-votes", h.myVotes)
	g.POST("/:id/vote", h.vote)
	g.POST("/:id/options", h.addOption)
	g.POST("/:id/close", h.close)
	g.POST("/:id/reopen", h.reopen)
	g.GET("/:id/stream", h.stream)

	return r
}

func requestId() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIdHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(requestIdHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logging.Logger.WithFields(logrus.Fields{
			"module":    "api",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"requestId": c.GetString("requestId"),
		})
		if identity := auth.CurrentUser(c); identity.UserId != "" {
			entry = entry.WithField("user", identity.UserId)
		}

		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request failed")
		case status >= http.StatusBadRequest:
			entry.Info("request rejected")
		default:
			entry.Debug("request served")
		}
	}
}
