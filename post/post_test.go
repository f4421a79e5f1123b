package post

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewPollPost(t *testing.T) {
	now := time.Now()
	p, err := NewPollPost("  Which book next?  ", "u1", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Content != "Which book next?" {
		t.Errorf("expected trimmed content, got %q", p.Content)
	}
	if !p.HasPoll || p.Category != CategoryQuestion {
		t.Errorf("expected question post with poll, got %+v", p)
	}
	if p.Poll != nil {
		t.Error("poll reference should be empty until linked")
	}

	if _, err := NewPollPost(" ", "u1", now); !errors.Is(err, ErrInvalidPost) {
		t.Errorf("expected ErrInvalidPost for empty content, got %v", err)
	}
	if _, err := NewPollPost(strings.Repeat("x", MaxContentLength+1), "u1", now); !errors.Is(err, ErrInvalidPost) {
		t.Errorf("expected ErrInvalidPost for long content, got %v", err)
	}
}
