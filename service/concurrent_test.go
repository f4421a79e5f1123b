package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kuttab/polls/auth"
	"github.com/kuttab/polls/database"
	"github.com/kuttab/polls/poll"
	"github.com/pkg/errors"
)

const voters = 20

func TestConcurrentVotesFromSameUser(t *testing.T) {
	svc, _ := newTestService(database.NewMemoryStore())
	svc.MaxRetries = voters * 5
	created := createPoll(t, svc, poll.DefaultSettings())

	var accepted, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(option int) {
			defer wg.Done()
			_, err := svc.Vote(context.Background(), created.Id, reader, []int{option})
			switch {
			case err == nil:
				atomic.AddInt32(&accepted, 1)
			case errors.Is(err, poll.ErrAlreadyVoted):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i % 3)
	}
	wg.Wait()

	if accepted != 1 || rejected != voters-1 {
		t.Errorf("expected 1 accepted and %d rejected, got %d and %d", voters-1, accepted, rejected)
	}

	stored, _ := svc.Store.GetPoll(context.Background(), created.Id)
	if stored.Stats.TotalVotes != 1 || stored.Stats.UniqueVoters != 1 {
		t.Errorf("expected a single stored vote, got %+v", stored.Stats)
	}
}

func TestConcurrentVotesFromDifferentUsers(t *testing.T) {
	svc, _ := newTestService(database.NewMemoryStore())
	svc.MaxRetries = voters * 5
	created := createPoll(t, svc, poll.DefaultSettings())

	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			voter := auth.Identity{UserId: fmt.Sprintf("user-%d", i), Role: auth.RoleUser}
			if _, err := svc.Vote(context.Background(), created.Id, voter, []int{i % 3}); err != nil {
				t.Errorf("vote from %s failed: %v", voter.UserId, err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := svc.Store.GetPoll(context.Background(), created.Id)
	if stored.Stats.TotalVotes != voters || stored.Stats.UniqueVoters != voters {
		t.Errorf("expected %d votes from %d voters, got %+v", voters, voters, stored.Stats)
	}
	sum := 0
	for _, option := range stored.Options {
		if option.Votes != len(option.Voters) {
			t.Errorf("option %q has %d votes but %d voters", option.Text, option.Votes, len(option.Voters))
		}
		sum += option.Votes
	}
	if sum != voters {
		t.Errorf("option votes add up to %d", sum)
	}
}

func TestConcurrentMultipleChoiceRespectsMaxVotes(t *testing.T) {
	svc, _ := newTestService(database.NewMemoryStore())
	svc.MaxRetries = voters

	settings := poll.DefaultSettings()
	settings.MultipleChoice = true
	settings.MaxVotes = 2
	created := createPoll(t, svc, settings)

	var accepted int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(option int) {
			defer wg.Done()
			_, err := svc.Vote(context.Background(), created.Id, reader, []int{option})
			if err == nil {
				atomic.AddInt32(&accepted, 1)
			} else if !errors.Is(err, poll.ErrMaxVotesExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := svc.Store.GetPoll(context.Background(), created.Id)
	if accepted != 2 || len(stored.UserVotes(reader.UserId)) != 2 {
		t.Errorf("expected 2 accepted selections, got %d accepted and %v stored", accepted, stored.UserVotes(reader.UserId))
	}
}
