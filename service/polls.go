package service

import (
	"context"
	"time"

	"github.com/kuttab/polls/auth"
	"github.com/kuttab/polls/database"
	"github.com/kuttab/polls/logging"
	"github.com/kuttab/polls/poll"
	"github.com/kuttab/polls/post"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const defaultMaxRetries = 3

var (
	ErrPollNotFound   = errors.New("poll not found")
	ErrForbidden      = errors.New("not allowed to modify this poll")
	ErrResultsHidden  = errors.New("results are hidden until the poll closes")
	ErrWriteConflict  = errors.New("poll is being updated, try again")
	ErrStorageFailure = errors.New("storage failure")
)

// Store is the persistence the service needs; database.MongoStore and
// database.MemoryStore both satisfy it.
type Store interface {
	InsertPoll(ctx context.Context, p *poll.Poll) error
	GetPoll(ctx context.Context, id primitive.ObjectID) (*poll.Poll, error)
	UpdatePoll(ctx context.Context, p *poll.Poll) error
	IncrementViews(ctx context.Context, id primitive.ObjectID) error
	ListPolls(ctx context.Context, filter database.ListFilter) ([]*poll.Poll, int64, error)
	SearchPolls(ctx context.Context, filter database.SearchFilter) ([]*poll.Poll, error)
	ActivePolls(ctx context.Context, now time.Time, limit int) ([]*poll.Poll, error)
	PollStats(ctx context.Context, author string) (database.PollStats, error)
	DeletePoll(ctx context.Context, id primitive.ObjectID) error
	InsertPost(ctx context.Context, p *post.Post) error
	DeletePost(ctx context.Context, id primitive.ObjectID) error
	LinkPoll(ctx context.Context, postId, pollId primitive.ObjectID) error
}

type Notifier interface {
	Publish(topic string, payload interface{})
}

type CreatePollInput struct {
	Question string
	Options  []string
	Settings poll.Settings
	Category poll.Category
	Tags     []string
}

type PollService struct {
	Store      Store
	Notifier   Notifier
	Now        func() time.Time
	MaxRetries int
}

func NewPollService(store Store, notifier Notifier, maxRetries int) *PollService {
	return &PollService{
		Store:      store,
		Notifier:   notifier,
		MaxRetries: maxRetries,
	}
}

// Create publishes the question post first and then the poll linked to it.
// A failed step removes what the earlier steps stored.
func (s *PollService) Create(ctx context.Context, author auth.Identity, in CreatePollInput) (*poll.Poll, error) {
	now := s.now()

	if in.Settings.EndDate != nil && !in.Settings.EndDate.After(now) {
		return nil, errors.Wrap(poll.ErrInvalidPoll, "endDate must be in the future")
	}

	question, err := post.NewPollPost(in.Question, author.UserId, now)
	if err != nil {
		return nil, errors.Wrap(poll.ErrInvalidPoll, err.Error())
	}
	p, err := poll.New(in.Question, in.Options, author.UserId, question.Id, in.Settings, in.Category, in.Tags, now)
	if err != nil {
		return nil, err
	}

	if err := s.Store.InsertPost(ctx, question); err != nil {
		return nil, s.storageFailure(err)
	}
	if err := s.Store.InsertPoll(ctx, p); err != nil {
		s.rollback(ctx, question.Id, primitive.NilObjectID)
		return nil, s.storageFailure(err)
	}
	if err := s.Store.LinkPoll(ctx, question.Id, p.Id); err != nil {
		s.rollback(ctx, question.Id, p.Id)
		return nil, s.storageFailure(err)
	}

	logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "Create", "poll": p.Id.Hex(), "author": author.UserId}).Info("poll created")
	return p, nil
}

// rollback removes the documents of a half-finished Create. A zero pollId
// means the poll was never stored.
func (s *PollService) rollback(ctx context.Context, postId, pollId primitive.ObjectID) {
	log := logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "Create", "post": postId.Hex()})
	if !pollId.IsZero() {
		if err := s.Store.DeletePoll(ctx, pollId); err != nil && !errors.Is(err, database.ErrNotFound) {
			log.WithFields(logrus.Fields{"poll": pollId.Hex(), "error": err}).Error("failed to remove poll of failed create")
		}
	}
	if err := s.Store.DeletePost(ctx, postId); err != nil && !errors.Is(err, database.ErrNotFound) {
		log.WithField("error", err).Error("failed to remove post of failed create")
	}
}

// Find loads a poll without counting a view.
func (s *PollService) Find(ctx context.Context, id primitive.ObjectID) (*poll.Poll, error) {
	return s.load(ctx, id)
}

// Get loads a poll and counts the view.
func (s *PollService) Get(ctx context.Context, id primitive.ObjectID) (*poll.Poll, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.Store.IncrementViews(ctx, id); err != nil {
		// views are approximate
		logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "Get", "poll": id.Hex(), "error": err}).Warn("failed to count view")
	} else {
		p.IncrementViews()
	}
	return p, nil
}

func (s *PollService) List(ctx context.Context, filter database.ListFilter) ([]*poll.Poll, int64, error) {
	polls, total, err := s.Store.ListPolls(ctx, filter)
	if err != nil {
		return nil, 0, s.storageFailure(err)
	}
	return polls, total, nil
}

func (s *PollService) Search(ctx context.Context, filter database.SearchFilter) ([]*poll.Poll, error) {
	polls, err := s.Store.SearchPolls(ctx, filter)
	if err != nil {
		return nil, s.storageFailure(err)
	}
	return polls, nil
}

func (s *PollService) Active(ctx context.Context, limit int) ([]*poll.Poll, error) {
	if limit < 1 {
		limit = 10
	}
	polls, err := s.Store.ActivePolls(ctx, s.now(), limit)
	if err != nil {
		return nil, s.storageFailure(err)
	}
	return polls, nil
}

func (s *PollService) Stats(ctx context.Context, author string) (database.PollStats, error) {
	stats, err := s.Store.PollStats(ctx, author)
	if err != nil {
		return database.PollStats{}, s.storageFailure(err)
	}
	return stats, nil
}

func (s *PollService) Vote(ctx context.Context, id primitive.ObjectID, voter auth.Identity, indexes []int) (*poll.Poll, error) {
	p, err := s.mutate(ctx, id, func(p *poll.Poll, now time.Time) error {
		return p.Vote(voter.UserId, indexes, now)
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "Vote", "poll": id.Hex(), "user": voter.UserId}).Info("vote recorded")
	s.publish(p)
	return p, nil
}

func (s *PollService) AddOption(ctx context.Context, id primitive.ObjectID, requester auth.Identity, text string) (*poll.Poll, error) {
	p, err := s.mutate(ctx, id, func(p *poll.Poll, now time.Time) error {
		return p.AddOption(text, requester.UserId, now)
	})
	if err != nil {
		return nil, err
	}
	s.publish(p)
	return p, nil
}

// Close is allowed for the author and for moderators. Closing a closed poll
// succeeds.
func (s *PollService) Close(ctx context.Context, id primitive.ObjectID, actor auth.Identity) (*poll.Poll, error) {
	p, err := s.mutate(ctx, id, func(p *poll.Poll, now time.Time) error {
		if !canManage(p, actor) {
			return ErrForbidden
		}
		p.Close(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "Close", "poll": id.Hex(), "user": actor.UserId}).Info("poll closed")
	s.publish(p)
	return p, nil
}

func (s *PollService) Reopen(ctx context.Context, id primitive.ObjectID, actor auth.Identity) (*poll.Poll, error) {
	p, err := s.mutate(ctx, id, func(p *poll.Poll, now time.Time) error {
		if !canManage(p, actor) {
			return ErrForbidden
		}
		p.Reopen(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "Reopen", "poll": id.Hex(), "user": actor.UserId}).Info("poll reopened")
	s.publish(p)
	return p, nil
}

// Results projects the poll results for viewer. While a poll with hidden
// results is running only its author and moderators can see them.
func (s *PollService) Results(ctx context.Context, id primitive.ObjectID, viewer auth.Identity) (*poll.Poll, []poll.Result, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !s.ResultsVisible(p, viewer) {
		return p, nil, ErrResultsHidden
	}
	return p, p.Results(), nil
}

func (s *PollService) ResultsVisible(p *poll.Poll, viewer auth.Identity) bool {
	return p.Settings.ShowResults || !p.IsActive(s.now()) || canManage(p, viewer)
}

func (s *PollService) UserVotes(ctx context.Context, id primitive.ObjectID, user auth.Identity) ([]int, error) {
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.UserVotes(user.UserId), nil
}

// mutate applies fn to the latest stored poll and writes it back with a
// version check, retrying on concurrent modification.
func (s *PollService) mutate(ctx context.Context, id primitive.ObjectID, fn func(p *poll.Poll, now time.Time) error) (*poll.Poll, error) {
	retries := s.MaxRetries
	if retries < 1 {
		retries = defaultMaxRetries
	}

	for attempt := 1; attempt <= retries; attempt++ {
		p, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(p, s.now()); err != nil {
			return nil, err
		}

		err = s.Store.UpdatePoll(ctx, p)
		switch {
		case err == nil:
			return p, nil
		case errors.Is(err, database.ErrVersionConflict):
			logging.Logger.WithFields(logrus.Fields{
				"module":  "service",
				"method":  logging.Trace().Function,
				"poll":    id.Hex(),
				"attempt": attempt,
			}).Debug("write conflict, retrying")
		case errors.Is(err, database.ErrNotFound):
			return nil, ErrPollNotFound
		default:
			return nil, s.storageFailure(err)
		}
	}

	logging.Logger.WithFields(logrus.Fields{"module": "service", "method": "mutate", "poll": id.Hex()}).Warn("giving up after repeated write conflicts")
	return nil, ErrWriteConflict
}

func (s *PollService) load(ctx context.Context, id primitive.ObjectID) (*poll.Poll, error) {
	p, err := s.Store.GetPoll(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, s.storageFailure(err)
	}
	return p, nil
}

func (s *PollService) publish(p *poll.Poll) {
	if s.Notifier == nil {
		return
	}
	payload := map[string]interface{}{
		"pollId": p.Id.Hex(),
		"status": p.Status,
	}
	// stream subscribers are anonymous to the poll, so hidden results stay hidden
	if s.ResultsVisible(p, auth.Identity{}) {
		payload["stats"] = p.Stats
		payload["results"] = p.Results()
	}
	s.Notifier.Publish(p.Id.Hex(), payload)
}

func (s *PollService) storageFailure(err error) error {
	logging.Logger.WithFields(logrus.Fields{"module": "service", "error": err}).Error("storage failure")
	return errors.WithMessage(ErrStorageFailure, err.Error())
}

func (s *PollService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func canManage(p *poll.Poll, actor auth.Identity) bool {
	return p.Author == actor.UserId || actor.IsModerator()
}
