// Package submission finishes attempts exactly once.
//
// Every finish trigger (an explicit submit, the timer reaching zero, a lazy sweep of an abandoned
// attempt, a retried request) goes through Coordinator.Finish. The store decides which call wins;
// every other call gets the results of the winning one as a normal, successful outcome.
package submission

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/tquiz/internal/attempt"
	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/event"
	"github.com/victornm/tquiz/internal/scoring"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/telemetry"
)

const (
	defaultGrace       = 5 * time.Second
	defaultCallTimeout = 5 * time.Second
)

type Config struct {
	Store    store.Store
	Cache    ResultCache
	Clock    clock.Clock
	EventBus event.Publisher

	// Grace is how long after the deadline submitted answers are still taken into account.
	// Later finishes score the attempt as if nothing had been answered.
	Grace time.Duration
	// CallTimeout bounds every store call.
	CallTimeout time.Duration
}

type Coordinator struct {
	store       store.Store
	cache       ResultCache
	clock       clock.Clock
	eb          event.Publisher
	grace       time.Duration
	callTimeout time.Duration
}

func NewCoordinator(c Config) *Coordinator {
	co := &Coordinator{
		store:       c.Store,
		cache:       c.Cache,
		clock:       c.Clock,
		eb:          c.EventBus,
		grace:       c.Grace,
		callTimeout: c.CallTimeout,
	}

	if co.cache == nil {
		co.cache = NewMemoryCache()
	}
	if co.clock == nil {
		co.clock = clock.System{}
	}
	if co.eb == nil {
		co.eb = event.Discard
	}
	if co.grace <= 0 {
		co.grace = defaultGrace
	}
	if co.callTimeout <= 0 {
		co.callTimeout = defaultCallTimeout
	}

	return co
}

type FinishRequest struct {
	AttemptID string
	// UserID, when set, must own the attempt.
	UserID  string
	Answers domain.Answers
	Trigger domain.FinishTrigger
}

// Outcome is the canonical result of a finished attempt.
type Outcome struct {
	Attempt domain.Attempt
	Results []domain.Result
	Summary domain.Summary
	// Duplicate is set when the attempt had already been finished by an earlier call.
	Duplicate bool
}

// Finish scores the attempt once. Repeated calls, with the same or different answers, return
// the results of the first successful call and no error.
func (c *Coordinator) Finish(ctx context.Context, req FinishRequest) (*Outcome, error) {
	if req.Trigger == "" {
		req.Trigger = domain.FinishTriggerManual
	}

	a, err := c.getAttempt(ctx, req.AttemptID, req.UserID)
	if err != nil {
		return nil, c.failed(err)
	}

	if a.Finished() {
		return c.duplicate(ctx, a)
	}

	now := c.clock.Now()
	answers := req.Answers
	if len(answers) > 0 && now.After(a.EndsAt.Add(c.grace)) {
		slog.WarnContext(ctx, "submission: answers arrived after the deadline, scoring as unanswered",
			"attempt", a.AttemptID,
			"ends_at", a.EndsAt,
			"now", now,
		)
		answers = nil
	}

	results, err := c.finishAttempt(ctx, store.FinishAttemptRequest{
		AttemptID:  a.AttemptID,
		Answers:    answers,
		FinishTime: now,
	})
	if errors.HasReason(err, errors.ReasonAlreadyFinished) {
		return c.duplicate(ctx, a)
	}
	if err != nil {
		return nil, c.failed(err)
	}

	kept, err := c.cache.Add(ctx, a.AttemptID, results)
	if err != nil {
		slog.ErrorContext(ctx, "submission: cache results failed",
			"attempt", a.AttemptID,
			"error", err,
		)
		kept = results
	}

	a.Status = domain.AttemptStatusFinished
	a.FinishTime = now
	out := &Outcome{
		Attempt: *a,
		Results: kept,
		Summary: scoring.Summarize(kept),
	}

	telemetry.AttemptsFinished.WithLabelValues(string(req.Trigger)).Inc()
	slog.InfoContext(ctx, "submission: attempt finished",
		"attempt", a.AttemptID,
		"trigger", req.Trigger,
		"correct", out.Summary.Correct,
		"total", out.Summary.Total,
	)

	c.eb.Publish(ctx, domain.EventAttemptFinished{
		Attempt: out.Attempt,
		Results: out.Results,
		Summary: out.Summary,
		Trigger: req.Trigger,
	})

	return out, nil
}

type ResultsRequest struct {
	AttemptID string
	UserID    string
}

// Results returns the results of a finished attempt, from the cache when possible.
func (c *Coordinator) Results(ctx context.Context, req ResultsRequest) (*Outcome, error) {
	a, err := c.getAttempt(ctx, req.AttemptID, req.UserID)
	if err != nil {
		return nil, err
	}

	if !a.Finished() {
		return nil, store.NotFinished(a.AttemptID)
	}

	results, err := c.results(ctx, a.AttemptID)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		Attempt: *a,
		Results: results,
		Summary: scoring.Summarize(results),
	}, nil
}

type ObserveRequest struct {
	AttemptID string
	UserID    string
}

// Observation is the state of an attempt as seen at one instant.
type Observation struct {
	Attempt   domain.Attempt
	Remaining int
	// Outcome is set once the attempt is finished.
	Outcome *Outcome
}

// Observe reads an attempt and resolves staleness on the way: an attempt whose time and grace
// ran out without being finished is finished now, with no answers. Inside the grace window an
// expired attempt is reported with no time left and no outcome, so the draft held by its play
// session can still be submitted.
func (c *Coordinator) Observe(ctx context.Context, req ObserveRequest) (*Observation, error) {
	a, err := c.getAttempt(ctx, req.AttemptID, req.UserID)
	if err != nil {
		return nil, err
	}

	out, swept, err := c.Sweep(ctx, a)
	if err != nil {
		return nil, err
	}
	if swept {
		return &Observation{Attempt: out.Attempt, Outcome: out}, nil
	}

	switch {
	case a.Finished():
		out, err := c.Results(ctx, ResultsRequest{AttemptID: a.AttemptID, UserID: req.UserID})
		if err != nil {
			return nil, err
		}
		return &Observation{Attempt: out.Attempt, Outcome: out}, nil

	default:
		return &Observation{
			Attempt:   *a,
			Remaining: attempt.RemainingSeconds(a.EndsAt, c.clock.Now()),
		}, nil
	}
}

// Sweep finishes an attempt that nobody submitted before its deadline plus the grace window,
// scoring it with no answers. It reports whether the attempt needed it.
func (c *Coordinator) Sweep(ctx context.Context, a *domain.Attempt) (*Outcome, bool, error) {
	now := c.clock.Now()
	if !attempt.Expired(a, now) || !now.After(a.EndsAt.Add(c.grace)) {
		return nil, false, nil
	}

	out, err := c.Finish(ctx, FinishRequest{
		AttemptID: a.AttemptID,
		UserID:    a.UserID,
		Trigger:   domain.FinishTriggerSweep,
	})
	if err != nil {
		return nil, false, err
	}

	return out, true, nil
}

// Grace is how long after the deadline submitted answers still count.
func (c *Coordinator) Grace() time.Duration {
	return c.grace
}

func (c *Coordinator) duplicate(ctx context.Context, a *domain.Attempt) (*Outcome, error) {
	results, err := c.results(ctx, a.AttemptID)
	if err != nil {
		return nil, c.failed(err)
	}

	telemetry.FinishDuplicates.Inc()
	slog.InfoContext(ctx, "submission: attempt was already finished",
		"attempt", a.AttemptID,
	)

	finished := *a
	finished.Status = domain.AttemptStatusFinished

	return &Outcome{
		Attempt:   finished,
		Results:   results,
		Summary:   scoring.Summarize(results),
		Duplicate: true,
	}, nil
}

// results prefers the first results this process saw and falls back to the store.
func (c *Coordinator) results(ctx context.Context, attemptID string) ([]domain.Result, error) {
	cached, ok, err := c.cache.Get(ctx, attemptID)
	if err != nil {
		slog.WarnContext(ctx, "submission: read cached results failed",
			"attempt", attemptID,
			"error", err,
		)
	}
	if ok {
		return cached, nil
	}

	results, err := c.getResults(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	kept, err := c.cache.Add(ctx, attemptID, results)
	if err != nil {
		slog.WarnContext(ctx, "submission: cache results failed",
			"attempt", attemptID,
			"error", err,
		)
		return results, nil
	}

	return kept, nil
}

func (c *Coordinator) failed(err error) error {
	reason := string(errors.Convert(err).Reason)
	if reason == "" {
		reason = "unknown"
	}
	telemetry.FinishFailures.WithLabelValues(reason).Inc()

	return err
}

func (c *Coordinator) getAttempt(ctx context.Context, attemptID, userID string) (*domain.Attempt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	a, err := c.store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, store.Classify(err)
	}

	if userID != "" && a.UserID != userID {
		return nil, store.AttemptNotFound(attemptID)
	}

	return a, nil
}

func (c *Coordinator) finishAttempt(ctx context.Context, req store.FinishAttemptRequest) ([]domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	results, err := c.store.FinishAttempt(ctx, req)
	return results, store.Classify(err)
}

func (c *Coordinator) getResults(ctx context.Context, attemptID string) ([]domain.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	results, err := c.store.GetResults(ctx, attemptID)
	return results, store.Classify(err)
}
