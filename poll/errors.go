package poll

import "github.com/pkg/errors"

var (
	ErrPollInactive             = errors.New("poll is not active or has ended")
	ErrMultipleChoiceNotAllowed = errors.New("multiple choice voting is not allowed in this poll")
	ErrMaxVotesExceeded         = errors.New("maximum number of votes exceeded")
	ErrAlreadyVoted             = errors.New("you have already voted in this poll")
	ErrAddOptionNotAllowed      = errors.New("adding options is not allowed in this poll")
	ErrInvalidPoll              = errors.New("invalid poll")
	ErrInvalidOption            = errors.New("invalid option")
	ErrNoOptionSelected         = errors.New("at least one option must be selected")
)
