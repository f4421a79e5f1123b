package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kuttab/polls/poll"
	"github.com/kuttab/polls/post"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps polls and posts in process. Values are copied on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	polls map[primitive.ObjectID]*poll.Poll
	posts map[primitive.ObjectID]*post.Post
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		polls: make(map[primitive.ObjectID]*poll.Poll),
		posts: make(map[primitive.ObjectID]*post.Post),
	}
}

func (s *MemoryStore) InsertPoll(ctx context.Context, p *poll.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.polls[p.Id]; exists {
		return errors.Errorf("poll with id %s already exists", p.Id.Hex())
	}
	s.polls[p.Id] = clonePoll(p)
	return nil
}

func (s *MemoryStore) GetPoll(ctx context.Context, id primitive.ObjectID) (*poll.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.polls[id]
	if !exists {
		return nil, ErrNotFound
	}
	return clonePoll(p), nil
}

func (s *MemoryStore) UpdatePoll(ctx context.Context, p *poll.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.polls[p.Id]
	if !exists {
		return ErrNotFound
	}
	if stored.Version != p.Version {
		return ErrVersionConflict
	}

	updated := clonePoll(p)
	updated.Stats.Views = stored.Stats.Views
	updated.Version = p.Version + 1
	s.polls[p.Id] = updated

	p.Version++
	return nil
}

func (s *MemoryStore) DeletePoll(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.polls[id]; !exists {
		return ErrNotFound
	}
	delete(s.polls, id)
	return nil
}

func (s *MemoryStore) IncrementViews(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.polls[id]
	if !exists {
		return ErrNotFound
	}
	p.IncrementViews()
	return nil
}

func (s *MemoryStore) ListPolls(ctx context.Context, filter ListFilter) ([]*poll.Poll, int64, error) {
	matched := s.collect(func(p *poll.Poll) bool {
		return filter.Status == "" || string(p.Status) == filter.Status
	}, byNewest)
	return paginate(matched, filter), int64(len(matched)), nil
}

func (s *MemoryStore) SearchPolls(ctx context.Context, filter SearchFilter) ([]*poll.Poll, error) {
	query := strings.ToLower(filter.Query)
	matched := s.collect(func(p *poll.Poll) bool {
		if filter.Category != "" && string(p.Category) != filter.Category {
			return false
		}
		if filter.Author != "" && p.Author != filter.Author {
			return false
		}
		if filter.Status != "" && string(p.Status) != filter.Status {
			return false
		}
		if strings.Contains(strings.ToLower(p.Question), query) {
			return true
		}
		for _, tag := range p.Tags {
			if strings.Contains(strings.ToLower(tag), query) {
				return true
			}
		}
		return false
	}, byNewest)
	return paginate(matched, filter.paging()), nil
}

func (s *MemoryStore) ActivePolls(ctx context.Context, now time.Time, limit int) ([]*poll.Poll, error) {
	matched := s.collect(func(p *poll.Poll) bool {
		return p.Status == poll.StatusActive && (p.Settings.EndDate == nil || p.Settings.EndDate.After(now))
	}, func(a, b *poll.Poll) bool {
		if a.Stats.TotalVotes != b.Stats.TotalVotes {
			return a.Stats.TotalVotes > b.Stats.TotalVotes
		}
		return byNewest(a, b)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) PollStats(ctx context.Context, author string) (PollStats, error) {
	stats := PollStats{Statuses: map[string]int{}, Categories: map[string]int{}}
	for _, p := range s.collect(func(p *poll.Poll) bool { return author == "" || p.Author == author }, byNewest) {
		stats.TotalPolls++
		stats.TotalVotes += p.Stats.TotalVotes
		stats.TotalVoters += p.Stats.UniqueVoters
		stats.Statuses[string(p.Status)]++
		stats.Categories[string(p.Category)]++
	}
	return stats, nil
}

func (s *MemoryStore) InsertPost(ctx context.Context, p *post.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[p.Id]; exists {
		return errors.Errorf("post with id %s already exists", p.Id.Hex())
	}
	copied := *p
	s.posts[p.Id] = &copied
	return nil
}

func (s *MemoryStore) GetPost(ctx context.Context, id primitive.ObjectID) (*post.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.posts[id]
	if !exists {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (s *MemoryStore) DeletePost(ctx context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.posts[id]; !exists {
		return ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

func (s *MemoryStore) LinkPoll(ctx context.Context, postId, pollId primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.posts[postId]
	if !exists {
		return ErrNotFound
	}
	p.Poll = &pollId
	p.HasPoll = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) collect(match func(*poll.Poll) bool, less func(a, b *poll.Poll) bool) []*poll.Poll {
	s.mu.RLock()
	defer s.mu.RUnlock()

	polls := []*poll.Poll{}
	for _, p := range s.polls {
		if match(p) {
			polls = append(polls, clonePoll(p))
		}
	}
	sort.Slice(polls, func(i, j int) bool {
		return less(polls[i], polls[j])
	})
	return polls
}

func byNewest(a, b *poll.Poll) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Id.Hex() > b.Id.Hex()
}

func paginate(polls []*poll.Poll, filter ListFilter) []*poll.Poll {
	start := filter.skip()
	if start >= len(polls) {
		return []*poll.Poll{}
	}
	end := start + filter.limit()
	if end > len(polls) {
		end = len(polls)
	}
	return polls[start:end]
}

func clonePoll(p *poll.Poll) *poll.Poll {
	copied := *p
	copied.Options = make([]poll.Option, len(p.Options))
	for i, option := range p.Options {
		copied.Options[i] = poll.Option{
			Text:   option.Text,
			Votes:  option.Votes,
			Voters: append([]string{}, option.Voters...),
		}
	}
	copied.Tags = append([]string{}, p.Tags...)
	if p.Settings.EndDate != nil {
		end := *p.Settings.EndDate
		copied.Settings.EndDate = &end
	}
	return &copied
}
