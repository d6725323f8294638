package api

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/tquiz/internal/attempt"
	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/event"
	"github.com/victornm/tquiz/internal/leaderboard"
	"github.com/victornm/tquiz/internal/play"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/submission"
)

type Config struct {
	EventBus    *event.Bus
	Store       store.Store
	Attempt     *attempt.Service
	Submission  *submission.Coordinator
	Leaderboard *leaderboard.Service
	Auth        *Authenticator
	Clock       clock.Clock

	// Redis, when set, receives per-user notifications on channels prefixed with PubsubPrefix.
	Redis        Redis
	PubsubPrefix string

	NewTickerFunc play.NewTickerFunc
	TickInterval  time.Duration
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	store store.Store
	as    *attempt.Service
	sc    *submission.Coordinator
	ls    *leaderboard.Service
	auth  *Authenticator
	clock clock.Clock

	sessions     *play.Registry
	upgrader     websocket.Upgrader
	newTicker    play.NewTickerFunc
	tickInterval time.Duration

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		store:        c.Store,
		as:           c.Attempt,
		sc:           c.Submission,
		ls:           c.Leaderboard,
		auth:         c.Auth,
		clock:        c.Clock,
		sessions:     play.NewRegistry(),
		newTicker:    c.NewTickerFunc,
		tickInterval: c.TickInterval,
		redis:        c.Redis,
		prefix:       c.PubsubPrefix,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.newTicker == nil {
		a.newTicker = play.NewTicker
	}
	if a.tickInterval <= 0 {
		a.tickInterval = play.DefaultTickInterval
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameAttemptFinished, func(ctx context.Context, e event.Event) error {
		a.sessions.Delete(e.(domain.EventAttemptFinished).Attempt.AttemptID)
		return nil
	})

	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameAttemptFinished, func(ctx context.Context, e event.Event) error {
			return a.PublishAttemptFinished(ctx, e.(domain.EventAttemptFinished))
		})
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

// Register mounts the v1 routes. Every route requires a bearer token.
func (a *API) Register(r gin.IRouter) {
	v1 := r.Group("/v1", a.authenticate())

	v1.GET("/quizzes", a.ListQuizzes)
	v1.GET("/quizzes/:quiz_id", a.GetQuiz)
	v1.POST("/quizzes/:quiz_id/attempts", a.StartAttempt)
	v1.GET("/quizzes/:quiz_id/leaderboard", a.GetLeaderboard)

	v1.GET("/attempts/:attempt_id", a.GetAttempt)
	v1.POST("/attempts/:attempt_id/finish", a.FinishAttempt)
	v1.GET("/attempts/:attempt_id/results", a.GetResults)
	v1.GET("/attempts/:attempt_id/ws", a.ServeAttemptWS)
}

func (a *API) ListQuizzes(c *gin.Context) {
	quizzes, err := a.store.ListQuizzes(c.Request.Context())
	if err != nil {
		a.abort(c, store.Classify(err))
		return
	}

	resp := ListQuizzesResponse{Quizzes: make([]Quiz, 0, len(quizzes))}
	for _, q := range quizzes {
		resp.Quizzes = append(resp.Quizzes, toQuiz(q))
	}

	c.JSON(http.StatusOK, resp)
}

// GetQuiz returns the quiz bundle. With shuffle=true the choices of every question come in a
// random order; questions stay in display order.
func (a *API) GetQuiz(c *gin.Context) {
	quizID := c.Param("quiz_id")

	q, err := a.store.GetQuiz(c.Request.Context(), quizID)
	if err != nil {
		a.abort(c, store.Classify(err))
		return
	}

	if !q.Published {
		a.abort(c, store.QuizNotFound(quizID))
		return
	}

	questions, err := a.store.GetQuestions(c.Request.Context(), quizID)
	if err != nil {
		a.abort(c, store.Classify(err))
		return
	}

	if c.Query("shuffle") == "true" {
		shuffleChoices(questions)
	}

	c.JSON(http.StatusOK, toBundle(domain.Bundle{Quiz: *q, Questions: questions}))
}

func (a *API) StartAttempt(c *gin.Context) {
	a.pruneSessions()

	at, err := a.as.Start(c.Request.Context(), attempt.StartRequest{
		QuizID: c.Param("quiz_id"),
		UserID: userID(c),
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAttempt(*at, a.as.Remaining(at)))
}

// GetAttempt reports the attempt as of now. An attempt whose time ran out without a submit is
// finished on the way and returned with its results.
func (a *API) GetAttempt(c *gin.Context) {
	obs, err := a.observe(c.Request.Context(), c.Param("attempt_id"), userID(c))
	if err != nil {
		a.abort(c, err)
		return
	}

	resp := GetAttemptResponse{Attempt: toAttempt(obs.Attempt, obs.Remaining)}
	if obs.Outcome != nil {
		o := toOutcome(obs.Outcome)
		resp.Outcome = &o
	}

	c.JSON(http.StatusOK, resp)
}

// observe reads the attempt through the coordinator, except when this instance holds a play
// session for an attempt out of time: then the session's draft is submitted first, so the
// answers picked before the deadline are scored instead of an empty sweep.
func (a *API) observe(ctx context.Context, attemptID, uid string) (*submission.Observation, error) {
	a.pruneSessions()

	if sess, ok := a.sessions.Get(attemptID); ok && sess.Attempt().UserID == uid && sess.Remaining() == 0 {
		out, err := sess.Submit(ctx)
		if err != nil {
			return nil, err
		}

		a.sessions.Delete(attemptID)
		return &submission.Observation{Attempt: out.Attempt, Outcome: out}, nil
	}

	obs, err := a.sc.Observe(ctx, submission.ObserveRequest{
		AttemptID: attemptID,
		UserID:    uid,
	})
	if err != nil {
		return nil, err
	}

	// Finished elsewhere, possibly by another instance.
	if obs.Outcome != nil {
		a.sessions.Delete(attemptID)
	}

	return obs, nil
}

// pruneSessions forgets the drafts that can no longer count.
func (a *API) pruneSessions() {
	if n := a.sessions.Prune(a.clock.Now().Add(-a.sc.Grace())); n > 0 {
		slog.Debug("api: pruned play sessions", "count", n)
	}
}

func (a *API) FinishAttempt(c *gin.Context) {
	var req FinishAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.abort(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body: %v", err)))
		return
	}

	out, err := a.sc.Finish(c.Request.Context(), submission.FinishRequest{
		AttemptID: c.Param("attempt_id"),
		UserID:    userID(c),
		Answers:   req.Answers,
		Trigger:   domain.FinishTriggerManual,
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toOutcome(out))
}

func (a *API) GetResults(c *gin.Context) {
	out, err := a.sc.Results(c.Request.Context(), submission.ResultsRequest{
		AttemptID: c.Param("attempt_id"),
		UserID:    userID(c),
	})
	if err != nil {
		a.abort(c, err)
		return
	}

	c.JSON(http.StatusOK, toOutcome(out))
}

func (a *API) GetLeaderboard(c *gin.Context) {
	if a.ls == nil {
		a.abort(c, errors.New(errors.CodeUnavailable, errors.WithMessagef("leaderboard is not enabled")))
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		QuizID: c.Param("quiz_id"),
	})
	if err != nil {
		a.abort(c, errors.Unavailable(err))
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}

func (a *API) abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), ErrorResponse{Error: e})
}

func shuffleChoices(questions []domain.Question) {
	for i := range questions {
		choices := make([]domain.Choice, len(questions[i].Choices))
		copy(choices, questions[i].Choices)
		rand.Shuffle(len(choices), func(x, y int) { choices[x], choices[y] = choices[y], choices[x] })
		questions[i].Choices = choices
	}
}
