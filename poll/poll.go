package poll

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusClosed   Status = "closed"
	StatusArchived Status = "archived"
)

type Category string

const (
	CategoryGeneral       Category = "general"
	CategoryWriting       Category = "writing"
	CategoryBooks         Category = "books"
	CategoryCommunity     Category = "community"
	CategoryEntertainment Category = "entertainment"
	CategoryTechnology    Category = "technology"
)

const (
	MaxQuestionLength = 500
	MaxOptionLength   = 200
	MaxTagLength      = 30
	MinOptions        = 2
)

type Option struct {
	Text   string   `bson:"text" json:"text" validate:"required,max=200"`
	Votes  int      `bson:"votes" json:"votes"`
	Voters []string `bson:"voters" json:"voters"`
}

type Settings struct {
	MultipleChoice     bool       `bson:"multipleChoice" json:"multipleChoice"`
	ShowResults        bool       `bson:"showResults" json:"showResults"`
	AllowAddingOptions bool       `bson:"allowAddingOptions" json:"allowAddingOptions"`
	EndDate            *time.Time `bson:"endDate" json:"endDate"`
	MaxVotes           int        `bson:"maxVotes" json:"maxVotes" validate:"min=1"`
}

// Stats is derived from Options by RecomputeStats, except Views.
type Stats struct {
	TotalVotes   int `bson:"totalVotes" json:"totalVotes"`
	UniqueVoters int `bson:"uniqueVoters" json:"uniqueVoters"`
	Views        int `bson:"views" json:"views"`
}

type Poll struct {
	Id         primitive.ObjectID `bson:"_id" json:"id"`
	Question   string             `bson:"question" json:"question" validate:"required,max=500"`
	Options    []Option           `bson:"options" json:"options" validate:"min=2,dive"`
	Author     string             `bson:"author" json:"author" validate:"required"`
	LinkedPost primitive.ObjectID `bson:"post" json:"linkedPost"`
	Settings   Settings           `bson:"settings" json:"settings"`
	Stats      Stats              `bson:"stats" json:"stats"`
	Status     Status             `bson:"status" json:"status" validate:"oneof=active closed archived"`
	Category   Category           `bson:"category" json:"category" validate:"oneof=general writing books community entertainment technology"`
	Tags       []string           `bson:"tags" json:"tags" validate:"dive,max=30"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
	Version    int64              `bson:"version" json:"-"`
}

var validate = validator.New()

// DefaultSettings mirrors the defaults a poll gets when the creator omits them.
func DefaultSettings() Settings {
	return Settings{
		ShowResults: true,
		MaxVotes:    1,
	}
}

// New builds an active poll linked to the post that carries its question.
func New(question string, optionTexts []string, author string, linkedPost primitive.ObjectID, settings Settings, category Category, tags []string, now time.Time) (*Poll, error) {
	if category == "" {
		category = CategoryGeneral
	}
	if settings.MaxVotes == 0 {
		settings.MaxVotes = 1
	}

	options := make([]Option, 0, len(optionTexts))
	for _, text := range optionTexts {
		options = append(options, Option{Text: strings.TrimSpace(text), Voters: []string{}})
	}

	cleanTags := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			cleanTags = append(cleanTags, tag)
		}
	}

	p := &Poll{
		Id:         primitive.NewObjectID(),
		Question:   strings.TrimSpace(question),
		Options:    options,
		Author:     author,
		LinkedPost: linkedPost,
		Settings:   settings,
		Status:     StatusActive,
		Category:   category,
		Tags:       cleanTags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.RecomputeStats()
	return p, nil
}

// Validate checks the stored shape of the poll.
func (p *Poll) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Wrap(ErrInvalidPoll, err.Error())
	}
	return nil
}

// RecomputeStats derives option vote counts and the poll totals from the
// voter sets.
func (p *Poll) RecomputeStats() {
	unique := make(map[string]struct{})
	total := 0
	for i := range p.Options {
		p.Options[i].Votes = len(p.Options[i].Voters)
		total += p.Options[i].Votes
		for _, voter := range p.Options[i].Voters {
			unique[voter] = struct{}{}
		}
	}
	p.Stats.TotalVotes = total
	p.Stats.UniqueVoters = len(unique)
}

func (p *Poll) IsExpired(now time.Time) bool {
	if p.Settings.EndDate == nil {
		return false
	}
	return now.After(*p.Settings.EndDate)
}

func (p *Poll) IsActive(now time.Time) bool {
	return p.Status == StatusActive && !p.IsExpired(now)
}

func (p *Poll) HasUserVoted(userId string) bool {
	for _, option := range p.Options {
		if option.hasVoter(userId) {
			return true
		}
	}
	return false
}

// UserVotes returns the indexes of the options the user voted for.
func (p *Poll) UserVotes(userId string) []int {
	indexes := []int{}
	for i, option := range p.Options {
		if option.hasVoter(userId) {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func (p *Poll) IncrementViews() {
	p.Stats.Views++
}

func (o Option) hasVoter(userId string) bool {
	for _, voter := range o.Voters {
		if voter == userId {
			return true
		}
	}
	return false
}
