package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kuttab/polls/auth"
	"github.com/kuttab/polls/database"
	"github.com/kuttab/polls/poll"
	"github.com/kuttab/polls/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const defaultPageSize = 20

type pageQuery struct {
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Status string `form:"status" binding:"omitempty,oneof=active closed archived"`
}

type searchQuery struct {
	pageQuery
	Query    string `form:"q" binding:"required"`
	Category string `form:"category"`
	Author   string `form:"author"`
}

type settingsRequest struct {
	MultipleChoice     *bool      `json:"multipleChoice"`
	ShowResults        *bool      `json:"showResults"`
	AllowAddingOptions *bool      `json:"allowAddingOptions"`
	EndDate            *time.Time `json:"endDate"`
	MaxVotes           *int       `json:"maxVotes"`
}

// apply overlays the fields the client sent on the default settings.
func (r settingsRequest) apply() poll.Settings {
	settings := poll.DefaultSettings()
	if r.MultipleChoice != nil {
		settings.MultipleChoice = *r.MultipleChoice
	}
	if r.ShowResults != nil {
		settings.ShowResults = *r.ShowResults
	}
	if r.AllowAddingOptions != nil {
		settings.AllowAddingOptions = *r.AllowAddingOptions
	}
	if r.EndDate != nil {
		end := r.EndDate.UTC()
		settings.EndDate = &end
	}
	if r.MaxVotes != nil {
		settings.MaxVotes = *r.MaxVotes
	}
	return settings
}

type createPollRequest struct {
	Question string          `json:"question" binding:"required,max=500"`
	Options  []string        `json:"options" binding:"required,min=2,dive,required,max=200"`
	Settings settingsRequest `json:"settings"`
	Category string          `json:"category"`
	Tags     []string        `json:"tags" binding:"omitempty,dive,max=30"`
}

type voteRequest struct {
	OptionIndex   *int  `json:"optionIndex"`
	OptionIndexes []int `json:"optionIndexes"`
}

func (r voteRequest) indexes() []int {
	if len(r.OptionIndexes) > 0 {
		return r.OptionIndexes
	}
	if r.OptionIndex != nil {
		return []int{*r.OptionIndex}
	}
	return nil
}

type addOptionRequest struct {
	OptionText string `json:"optionText" binding:"required,max=200"`
}

// pollView is the client's view of a poll. Voter lists are never exposed and
// tallies and vote totals are blanked while results are hidden from the viewer.
type pollView struct {
	*poll.Poll
	Options       []poll.Result `json:"options"`
	Stats         poll.Stats    `json:"stats"`
	ResultsHidden bool          `json:"resultsHidden"`
	HasVoted      bool          `json:"hasVoted"`
	UserVotes     []int         `json:"userVotes"`
}

func (h *handler) view(p *poll.Poll, viewer auth.Identity) pollView {
	v := pollView{
		Poll:      p,
		HasVoted:  p.HasUserVoted(viewer.UserId),
		UserVotes: p.UserVotes(viewer.UserId),
	}
	if h.polls.ResultsVisible(p, viewer) {
		v.Options = p.Results()
		v.Stats = p.Stats
		return v
	}

	// vote totals would let a voter work the tallies out
	v.ResultsHidden = true
	v.Stats = poll.Stats{Views: p.Stats.Views}
	v.Options = make([]poll.Result, len(p.Options))
	for i, option := range p.Options {
		v.Options[i] = poll.Result{Text: option.Text}
	}
	return v
}

func (h *handler) views(polls []*poll.Poll, viewer auth.Identity) []pollView {
	views := make([]pollView, 0, len(polls))
	for _, p := range polls {
		views = append(views, h.view(p, viewer))
	}
	return views
}

func (h *handler) list(c *gin.Context) {
	var query pageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	polls, total, err := h.polls.List(c.Request.Context(), database.ListFilter{
		Status: query.Status,
		Page:   query.Page,
		Limit:  query.Limit,
	})
	if err != nil {
		fail(c, err)
		return
	}

	page, limit := query.Page, query.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"polls":   h.views(polls, auth.CurrentUser(c)),
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
			"pages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

func (h *handler) search(c *gin.Context) {
	var query searchQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, "a search query is required")
		return
	}

	polls, err := h.polls.Search(c.Request.Context(), database.SearchFilter{
		Query:    query.Query,
		Category: query.Category,
		Author:   query.Author,
		Status:   query.Status,
		Page:     query.Page,
		Limit:    query.Limit,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "polls": h.views(polls, auth.CurrentUser(c))})
}

func (h *handler) active(c *gin.Context) {
	var query pageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err.Error())
		return
	}

	polls, err := h.polls.Active(c.Request.Context(), query.Limit)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "polls": h.views(polls, auth.CurrentUser(c))})
}

func (h *handler) stats(c *gin.Context) {
	stats, err := h.polls.Stats(c.Request.Context(), c.Query("author"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (h *handler) create(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "a question and at least two options are required")
		return
	}

	if req.Settings.MaxVotes != nil && *req.Settings.MaxVotes < 1 {
		badRequest(c, "maxVotes must be at least 1")
		return
	}
	settings := req.Settings.apply()

	identity := auth.CurrentUser(c)
	p, err := h.polls.Create(c.Request.Context(), identity, service.CreatePollInput{
		Question: req.Question,
		Options:  req.Options,
		Settings: settings,
		Category: poll.Category(req.Category),
		Tags:     req.Tags,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Poll created", "poll": h.view(p, identity)})
}

func (h *handler) get(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	p, err := h.polls.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "poll": h.view(p, auth.CurrentUser(c))})
}

func (h *handler) results(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	p, results, err := h.polls.Results(c.Request.Context(), id, auth.CurrentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": results,
		"stats":   p.Stats,
		"status":  p.Status,
	})
}

func (h *handler) myVotes(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	votes, err := h.polls.UserVotes(c.Request.Context(), id, auth.CurrentUser(c))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "hasVoted": len(votes) > 0, "votes": votes})
}

func (h *handler) vote(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "an option index is required")
		return
	}

	identity := auth.CurrentUser(c)
	p, err := h.polls.Vote(c.Request.Context(), id, identity, req.indexes())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Vote recorded", "poll": h.view(p, identity)})
}

func (h *handler) addOption(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	var req addOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "option text is required")
		return
	}

	identity := auth.CurrentUser(c)
	p, err := h.polls.AddOption(c.Request.Context(), id, identity, req.OptionText)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Option added", "poll": h.view(p, identity)})
}

func (h *handler) close(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	identity := auth.CurrentUser(c)
	p, err := h.polls.Close(c.Request.Context(), id, identity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Poll closed", "poll": h.view(p, identity)})
}

func (h *handler) reopen(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	identity := auth.CurrentUser(c)
	p, err := h.polls.Reopen(c.Request.Context(), id, identity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Poll reopened", "poll": h.view(p, identity)})
}

// stream subscribes the caller to live results of an existing poll.
func (h *handler) stream(c *gin.Context) {
	id, ok := pollId(c)
	if !ok {
		return
	}

	if _, err := h.polls.Find(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	h.broker.Serve(c, id.Hex())
}

func pollId(c *gin.Context) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		fail(c, errInvalidPollId)
		return primitive.NilObjectID, false
	}
	return id, true
}
