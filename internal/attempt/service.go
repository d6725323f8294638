package attempt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/event"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/telemetry"
)

type Config struct {
	Store    store.Store
	Clock    clock.Clock
	EventBus event.Publisher
}

type Service struct {
	store store.Store
	clock clock.Clock
	eb    event.Publisher
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		clock: c.Clock,
		eb:    c.EventBus,
	}

	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.eb == nil {
		s.eb = event.Discard
	}

	return s
}

type StartRequest struct {
	QuizID string
	UserID string
}

// Start opens a new attempt with its deadline fixed at now + the quiz time limit, both taken
// from the server side. An unfinished earlier attempt on the same quiz is left as it is.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Attempt, error) {
	if req.QuizID == "" || req.UserID == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("quiz and user are required: quiz=%q user=%q", req.QuizID, req.UserID))
	}

	q, err := s.store.GetQuiz(ctx, req.QuizID)
	if err != nil {
		return nil, store.Classify(err)
	}

	if !q.Published {
		return nil, store.QuizNotFound(req.QuizID)
	}

	if q.TimeLimit <= 0 {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("quiz has no time limit: %s", req.QuizID))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, errors.Internal(fmt.Errorf("generate attempt ID: %w", err))
	}

	now := s.clock.Now()
	a := &domain.Attempt{
		AttemptID: id.String(),
		QuizID:    q.QuizID,
		UserID:    req.UserID,
		StartedAt: now,
		EndsAt:    now.Add(q.TimeLimit),
		Status:    domain.AttemptStatusInProgress,
	}

	if err := s.store.CreateAttempt(ctx, a); err != nil {
		return nil, store.Classify(err)
	}

	telemetry.AttemptsStarted.Inc()
	slog.InfoContext(ctx, "attempt: started",
		"attempt", a.AttemptID,
		"quiz", a.QuizID,
		"user", a.UserID,
		"ends_at", a.EndsAt,
	)

	s.eb.Publish(ctx, domain.EventAttemptStarted{
		Attempt: *a,
	})

	return a, nil
}

type GetRequest struct {
	AttemptID string
	UserID    string
}

// Get returns an attempt owned by the requesting user. Attempts of other users are reported as
// not found.
func (s *Service) Get(ctx context.Context, req GetRequest) (*domain.Attempt, error) {
	a, err := s.store.GetAttempt(ctx, req.AttemptID)
	if err != nil {
		return nil, store.Classify(err)
	}

	if req.UserID != "" && a.UserID != req.UserID {
		return nil, store.AttemptNotFound(req.AttemptID)
	}

	return a, nil
}

// Remaining is RemainingSeconds against the service clock.
func (s *Service) Remaining(a *domain.Attempt) int {
	if a == nil {
		return 0
	}

	return RemainingSeconds(a.EndsAt, s.clock.Now())
}

func (s *Service) Expired(a *domain.Attempt) bool {
	return Expired(a, s.clock.Now())
}
