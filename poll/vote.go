package poll

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Result struct {
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
	VoterCount int    `json:"voterCount"`
}

// Vote records userId against the requested option indexes. Duplicate indexes
// count once and indexes outside the option list are skipped without error.
func (p *Poll) Vote(userId string, indexes []int, now time.Time) error {
	if !p.IsActive(now) {
		return ErrPollInactive
	}

	requested := distinct(indexes)
	if len(requested) == 0 {
		return ErrNoOptionSelected
	}
	if len(requested) > 1 && !p.Settings.MultipleChoice {
		return ErrMultipleChoiceNotAllowed
	}
	if len(requested) > p.Settings.MaxVotes {
		return errors.Wrapf(ErrMaxVotesExceeded, "you can vote for at most %d options", p.Settings.MaxVotes)
	}
	if p.Settings.MultipleChoice {
		// a user's selections across calls are bounded by MaxVotes too
		if len(p.UserVotes(userId))+p.countNewSelections(userId, requested) > p.Settings.MaxVotes {
			return errors.Wrapf(ErrMaxVotesExceeded, "you can vote for at most %d options", p.Settings.MaxVotes)
		}
	} else if p.HasUserVoted(userId) {
		return ErrAlreadyVoted
	}

	applied := false
	for _, index := range requested {
		if !p.inRange(index) || p.Options[index].hasVoter(userId) {
			continue
		}
		p.Options[index].Voters = append(p.Options[index].Voters, userId)
		applied = true
	}

	p.RecomputeStats()
	if applied {
		p.UpdatedAt = now
	}
	return nil
}

// AddOption appends a new option. An empty requester is the author or the
// system acting on their behalf and skips the permission check.
func (p *Poll) AddOption(text string, requester string, now time.Time) error {
	if !p.Settings.AllowAddingOptions && requester != "" && requester != p.Author {
		return ErrAddOptionNotAllowed
	}

	text = strings.TrimSpace(text)
	if text == "" || len([]rune(text)) > MaxOptionLength {
		return errors.Wrapf(ErrInvalidOption, "option text must be 1-%d characters", MaxOptionLength)
	}

	p.Options = append(p.Options, Option{Text: text, Voters: []string{}})
	p.UpdatedAt = now
	return nil
}

func (p *Poll) Close(now time.Time) {
	if p.Status == StatusClosed {
		return
	}
	p.Status = StatusClosed
	p.UpdatedAt = now
}

// Reopen marks the poll active again. An EndDate in the past still keeps it
// from accepting votes.
func (p *Poll) Reopen(now time.Time) {
	p.Status = StatusActive
	p.UpdatedAt = now
}

func (p *Poll) Results() []Result {
	total := p.Stats.TotalVotes
	results := make([]Result, 0, len(p.Options))
	for _, option := range p.Options {
		percentage := 0
		if total > 0 {
			percentage = int(math.Round(float64(option.Votes) / float64(total) * 100))
		}
		results = append(results, Result{
			Text:       option.Text,
			Votes:      option.Votes,
			Percentage: percentage,
			VoterCount: len(option.Voters),
		})
	}
	return results
}

func (p *Poll) inRange(index int) bool {
	return index >= 0 && index < len(p.Options)
}

func (p *Poll) countNewSelections(userId string, indexes []int) int {
	count := 0
	for _, index := range indexes {
		if p.inRange(index) && !p.Options[index].hasVoter(userId) {
			count++
		}
	}
	return count
}

func distinct(indexes []int) []int {
	seen := make(map[int]struct{}, len(indexes))
	out := make([]int, 0, len(indexes))
	for _, index := range indexes {
		if _, ok := seen[index]; ok {
			continue
		}
		seen[index] = struct{}{}
		out = append(out, index)
	}
	return out
}
