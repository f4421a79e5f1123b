package post

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MaxContentLength = 5000

const CategoryQuestion = "question"

var ErrInvalidPost = errors.New("invalid post")

// Post is the social feed entry a poll is published through.
type Post struct {
	Id        primitive.ObjectID  `bson:"_id" json:"id"`
	Content   string              `bson:"content" json:"content"`
	Author    string              `bson:"author" json:"author"`
	Category  string              `bson:"category" json:"category"`
	HasPoll   bool                `bson:"hasPoll" json:"hasPoll"`
	Poll      *primitive.ObjectID `bson:"poll" json:"poll"`
	CreatedAt time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// NewPollPost builds the question post that carries a new poll.
func NewPollPost(question, author string, now time.Time) (*Post, error) {
	content := strings.TrimSpace(question)
	if content == "" || len([]rune(content)) > MaxContentLength {
		return nil, errors.Wrapf(ErrInvalidPost, "content must be 1-%d characters", MaxContentLength)
	}
	return &Post{
		Id:        primitive.NewObjectID(),
		Content:   content,
		Author:    author,
		Category:  CategoryQuestion,
		HasPoll:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
