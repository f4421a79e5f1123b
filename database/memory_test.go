package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kuttab/polls/poll"
	"github.com/kuttab/polls/post"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newPoll(t *testing.T, question, author string, created time.Time, tags ...string) *poll.Poll {
	t.Helper()
	p, err := poll.New(question, []string{"Yes", "No"}, author, primitive.NewObjectID(), poll.DefaultSettings(), "", tags, created)
	if err != nil {
		t.Fatalf("Failed to create poll: %v", err)
	}
	return p
}

func TestMemoryStore_UpdatePollVersioning(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newPoll(t, "Q?", "a1", time.Now())
	if err := store.InsertPoll(ctx, p); err != nil {
		t.Fatal(err)
	}

	first, _ := store.GetPoll(ctx, p.Id)
	second, _ := store.GetPoll(ctx, p.Id)

	if err := first.Vote("u1", []int{0}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdatePoll(ctx, first); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("expected version 1 after update, got %d", first.Version)
	}

	if err := second.Vote("u1", []int{1}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.UpdatePoll(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale write, got %v", err)
	}

	stored, _ := store.GetPoll(ctx, p.Id)
	if stored.Stats.TotalVotes != 1 || stored.Options[0].Votes != 1 {
		t.Errorf("stale write leaked into store: %+v", stored.Stats)
	}
}

func TestMemoryStore_UpdateKeepsViews(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newPoll(t, "Q?", "a1", time.Now())
	store.InsertPoll(ctx, p)

	loaded, _ := store.GetPoll(ctx, p.Id)
	if err := store.IncrementViews(ctx, p.Id); err != nil {
		t.Fatal(err)
	}
	loaded.Close(time.Now())
	if err := store.UpdatePoll(ctx, loaded); err != nil {
		t.Fatal(err)
	}

	stored, _ := store.GetPoll(ctx, p.Id)
	if stored.Stats.Views != 1 {
		t.Errorf("expected views 1 to survive update, got %d", stored.Stats.Views)
	}
	if stored.Status != poll.StatusClosed {
		t.Errorf("expected closed, got %s", stored.Status)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := primitive.NewObjectID()

	if _, err := store.GetPoll(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPoll: expected ErrNotFound, got %v", err)
	}
	if err := store.IncrementViews(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementViews: expected ErrNotFound, got %v", err)
	}
	if err := store.UpdatePoll(ctx, &poll.Poll{Id: id}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdatePoll: expected ErrNotFound, got %v", err)
	}
	if err := store.LinkPoll(ctx, id, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("LinkPoll: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newPoll(t, "Q?", "a1", time.Now())
	store.InsertPoll(ctx, p)

	p.Options[0].Voters = append(p.Options[0].Voters, "intruder")
	loaded, _ := store.GetPoll(ctx, p.Id)
	if len(loaded.Options[0].Voters) != 0 {
		t.Error("store shares option slices with caller")
	}
}

func TestMemoryStore_Queries(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Now().Add(-time.Hour)

	books := newPoll(t, "Best novel of the year?", "a1", base, "books")
	poetry := newPoll(t, "Favourite poet?", "a2", base.Add(time.Minute), "poetry")
	closed := newPoll(t, "Old question", "a1", base.Add(2*time.Minute))
	closed.Close(base)
	past := base.Add(-time.Minute)
	expired := newPoll(t, "Expired question", "a2", base.Add(3*time.Minute))
	expired.Settings.EndDate = &past

	for _, p := range []*poll.Poll{books, poetry, closed, expired} {
		if err := store.InsertPoll(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	voted, _ := store.GetPoll(ctx, poetry.Id)
	voted.Vote("u1", []int{0}, time.Now())
	store.UpdatePoll(ctx, voted)

	t.Run("list newest first with total", func(t *testing.T) {
		polls, total, err := store.ListPolls(ctx, ListFilter{Page: 1, Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if total != 4 || len(polls) != 2 {
			t.Fatalf("expected 2 of 4, got %d of %d", len(polls), total)
		}
		if polls[0].Id != expired.Id {
			t.Errorf("expected newest poll first")
		}
	})

	t.Run("list by status", func(t *testing.T) {
		polls, total, _ := store.ListPolls(ctx, ListFilter{Status: "closed"})
		if total != 1 || polls[0].Id != closed.Id {
			t.Errorf("expected only the closed poll, got %d", total)
		}
	})

	t.Run("search question and tags", func(t *testing.T) {
		polls, _ := store.SearchPolls(ctx, SearchFilter{Query: "NOVEL"})
		if len(polls) != 1 || polls[0].Id != books.Id {
			t.Errorf("expected question match, got %d results", len(polls))
		}
		polls, _ = store.SearchPolls(ctx, SearchFilter{Query: "poetry"})
		if len(polls) != 1 || polls[0].Id != poetry.Id {
			t.Errorf("expected tag match, got %d results", len(polls))
		}
		polls, _ = store.SearchPolls(ctx, SearchFilter{Query: "question", Author: "a2"})
		if len(polls) != 1 || polls[0].Id != expired.Id {
			t.Errorf("expected author filter to apply, got %d results", len(polls))
		}
	})

	t.Run("active excludes closed and expired", func(t *testing.T) {
		polls, _ := store.ActivePolls(ctx, time.Now(), 10)
		if len(polls) != 2 {
			t.Fatalf("expected 2 active polls, got %d", len(polls))
		}
		if polls[0].Id != poetry.Id {
			t.Errorf("expected most voted poll first")
		}
	})

	t.Run("stats", func(t *testing.T) {
		stats, _ := store.PollStats(ctx, "")
		if stats.TotalPolls != 4 || stats.TotalVotes != 1 || stats.TotalVoters != 1 {
			t.Errorf("unexpected totals %+v", stats)
		}
		if stats.Statuses["active"] != 3 || stats.Statuses["closed"] != 1 {
			t.Errorf("unexpected statuses %v", stats.Statuses)
		}
		stats, _ = store.PollStats(ctx, "a1")
		if stats.TotalPolls != 2 || stats.Categories["general"] != 2 {
			t.Errorf("unexpected author stats %+v", stats)
		}
	})
}

func TestMemoryStore_Posts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p, _ := post.NewPollPost("Question?", "a1", time.Now())
	if err := store.InsertPost(ctx, p); err != nil {
		t.Fatal(err)
	}
	pollId := primitive.NewObjectID()
	if err := store.LinkPoll(ctx, p.Id, pollId); err != nil {
		t.Fatal(err)
	}
	stored, err := store.GetPost(ctx, p.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Poll == nil || *stored.Poll != pollId {
		t.Errorf("expected post linked to poll")
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	p := newPoll(t, "Q?", "a1", time.Now())
	if err := store.InsertPoll(ctx, p); err != nil {
		t.Fatal(err)
	}
	question, _ := post.NewPollPost("Q?", "a1", time.Now())
	if err := store.InsertPost(ctx, question); err != nil {
		t.Fatal(err)
	}

	if err := store.DeletePoll(ctx, p.Id); err != nil {
		t.Fatal(err)
	}
	if err := store.DeletePost(ctx, question.Id); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetPoll(ctx, p.Id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected poll to be gone, got %v", err)
	}
	if _, err := store.GetPost(ctx, question.Id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected post to be gone, got %v", err)
	}
	if err := store.DeletePoll(ctx, p.Id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
