// Package play drives one attempt from the presentation side: it keeps the draft answers,
// re-evaluates the remaining time on every tick and submits automatically when it reaches zero.
package play

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/tquiz/internal/attempt"
	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/scoring"
	"github.com/victornm/tquiz/internal/submission"
)

const DefaultTickInterval = time.Second

type Submitter interface {
	Finish(ctx context.Context, req submission.FinishRequest) (*submission.Outcome, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type NewTickerFunc func(d time.Duration) Ticker

// NewTicker adapts time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return stdTicker{time.NewTicker(d)}
}

type stdTicker struct {
	t *time.Ticker
}

func (t stdTicker) C() <-chan time.Time { return t.t.C }
func (t stdTicker) Stop()               { t.t.Stop() }

type Config struct {
	Attempt domain.Attempt
	// Questions of the attempt's quiz. Selections must reference them.
	Questions []domain.Question
	Submitter Submitter
	Clock     clock.Clock
}

// Session is the presentation state of one attempt. It is safe for concurrent use.
type Session struct {
	submitter Submitter
	clock     clock.Clock
	questions []domain.Question

	submitMu sync.Mutex

	mu      sync.Mutex
	attempt domain.Attempt
	answers domain.Answers
	outcome *submission.Outcome
}

func NewSession(c Config) *Session {
	s := &Session{
		submitter: c.Submitter,
		clock:     c.Clock,
		questions: c.Questions,
		attempt:   c.Attempt,
		answers:   make(domain.Answers),
	}

	if s.clock == nil {
		s.clock = clock.System{}
	}

	return s
}

// Frame is what the presentation renders after a tick.
type Frame struct {
	AttemptID string
	Remaining int
	// Outcome is set once the attempt is finished.
	Outcome *submission.Outcome
	// Err is the error of a failed automatic submit. The next tick tries again.
	Err error
}

func (s *Session) Attempt() domain.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

func (s *Session) Answers() domain.Answers {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(domain.Answers, len(s.answers))
	for q, c := range s.answers {
		out[q] = c
	}
	return out
}

func (s *Session) Outcome() *submission.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil {
		return 0
	}
	return attempt.RemainingSeconds(s.attempt.EndsAt, s.clock.Now())
}

// Select records a draft answer. Selections are refused once the attempt is finished or out of
// time, and when the choice is not one of the question's choices. An empty choice clears the answer.
func (s *Session) Select(questionID, choiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome != nil || attempt.RemainingSeconds(s.attempt.EndsAt, s.clock.Now()) == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("attempt is closed: %s", s.attempt.AttemptID))
	}

	if choiceID == "" {
		delete(s.answers, questionID)
		return nil
	}

	if err := scoring.Validate(s.questions, domain.Answers{questionID: choiceID}); err != nil {
		return err
	}

	s.answers[questionID] = choiceID
	return nil
}

// Submit finishes the attempt with the current draft. After time is up it counts as a timeout.
func (s *Session) Submit(ctx context.Context) (*submission.Outcome, error) {
	trigger := domain.FinishTriggerManual
	if s.Remaining() == 0 {
		trigger = domain.FinishTriggerTimeout
	}

	return s.submit(ctx, trigger)
}

// Tick re-evaluates the remaining time and submits at the zero crossing.
func (s *Session) Tick(ctx context.Context) Frame {
	s.mu.Lock()
	f := Frame{
		AttemptID: s.attempt.AttemptID,
		Outcome:   s.outcome,
	}
	if f.Outcome == nil {
		f.Remaining = attempt.RemainingSeconds(s.attempt.EndsAt, s.clock.Now())
	}
	s.mu.Unlock()

	if f.Outcome != nil || f.Remaining > 0 {
		return f
	}

	f.Outcome, f.Err = s.submit(ctx, domain.FinishTriggerTimeout)
	return f
}

// Run ticks at the given interval until the attempt is finished or ctx is done. It renders an
// initial frame immediately.
func (s *Session) Run(ctx context.Context, newTicker NewTickerFunc, interval time.Duration, render func(Frame)) error {
	if newTicker == nil {
		newTicker = NewTicker
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}

	f := s.Tick(ctx)
	render(f)
	if f.Outcome != nil {
		return nil
	}

	t := newTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
			f := s.Tick(ctx)
			render(f)
			if f.Outcome != nil {
				return nil
			}
		}
	}
}

func (s *Session) submit(ctx context.Context, trigger domain.FinishTrigger) (*submission.Outcome, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if out := s.Outcome(); out != nil {
		return out, nil
	}

	a := s.Attempt()
	out, err := s.submitter.Finish(ctx, submission.FinishRequest{
		AttemptID: a.AttemptID,
		UserID:    a.UserID,
		Answers:   s.Answers(),
		Trigger:   trigger,
	})
	if err != nil {
		slog.WarnContext(ctx, "play: submit failed",
			"attempt", a.AttemptID,
			"trigger", trigger,
			"error", err,
		)
		return nil, err
	}

	s.mu.Lock()
	s.outcome = out
	s.attempt = out.Attempt
	s.mu.Unlock()

	return out, nil
}
