package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kuttab/polls/logging"
	"github.com/kuttab/polls/poll"
	"github.com/kuttab/polls/service"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var errInvalidPollId = errors.New("invalid poll id")

type errorMapping struct {
	err    error
	status int
}

// Checked in order; the first match decides the status.
var errorStatuses = []errorMapping{
	{errInvalidPollId, http.StatusBadRequest},
	{poll.ErrInvalidPoll, http.StatusBadRequest},
	{poll.ErrInvalidOption, http.StatusBadRequest},
	{poll.ErrNoOptionSelected, http.StatusBadRequest},
	{poll.ErrPollInactive, http.StatusBadRequest},
	{poll.ErrMultipleChoiceNotAllowed, http.StatusBadRequest},
	{poll.ErrMaxVotesExceeded, http.StatusBadRequest},
	{poll.ErrAlreadyVoted, http.StatusConflict},
	{poll.ErrAddOptionNotAllowed, http.StatusForbidden},
	{service.ErrForbidden, http.StatusForbidden},
	{service.ErrResultsHidden, http.StatusForbidden},
	{service.ErrPollNotFound, http.StatusNotFound},
	{service.ErrWriteConflict, http.StatusConflict},
}

func statusFor(err error) int {
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error body. Internal errors are logged and not
// echoed back to the client.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.Logger.WithFields(logrus.Fields{
			"module":    "api",
			"method":    c.FullPath(),
			"requestId": c.GetString("requestId"),
			"error":     err,
		}).Error("request failed")
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}
