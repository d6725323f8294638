package submission_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/tquiz/internal/clock"
	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/event"
	"github.com/victornm/tquiz/internal/store"
	"github.com/victornm/tquiz/internal/store/memory"
	"github.com/victornm/tquiz/internal/submission"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCoordinator_Finish(t *testing.T) {
	type outputs struct {
		first, second       *submission.Outcome
		firstErr, secondErr error
		finished            []domain.EventAttemptFinished
		attempt             *domain.Attempt
	}

	tests := map[string]struct {
		arrange func(f *fixture)
		act     func(ctx context.Context, f *fixture) (first, second *submission.Outcome, firstErr, secondErr error)
		assert  func(t *testing.T, out outputs)
	}{
		"finishing twice should return identical results without scoring again": {
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				req := submission.FinishRequest{AttemptID: "a1", UserID: "u1", Answers: domain.Answers{"q1": "c1a", "q2": "c2a"}}
				first, err1 := f.co.Finish(ctx, req)
				req.Trigger = domain.FinishTriggerTimeout
				second, err2 := f.co.Finish(ctx, req)
				return first, second, err1, err2
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.firstErr)
				require.NoError(t, out.secondErr)
				assert.False(t, out.first.Duplicate)
				assert.True(t, out.second.Duplicate)
				assert.Equal(t, out.first.Results, out.second.Results)
				assert.Equal(t, 1, out.first.Summary.Correct)
				assert.Equal(t, 2, out.first.Summary.Total)
				assert.Len(t, out.finished, 1, "only the winning call publishes")
				assert.Equal(t, domain.AttemptStatusFinished, out.second.Attempt.Status)
			},
		},

		"a later call with different answers should still get the first results": {
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err1 := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1b"}})
				second, err2 := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a", "q2": "c2b"}})
				return first, second, err1, err2
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.firstErr)
				require.NoError(t, out.secondErr)
				assert.Equal(t, 0, out.second.Summary.Correct)
				assert.Equal(t, out.first.Results, out.second.Results)
			},
		},

		"an unanswered question should be scored as incorrect with no choice": {
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a"}})
				return first, nil, err, nil
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.firstErr)
				require.Len(t, out.first.Results, 2)
				assert.Nil(t, out.first.Results[1].ChosenChoiceID)
				assert.False(t, out.first.Results[1].IsCorrect)
			},
		},

		"an unknown attempt should be rejected": {
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "missing"})
				return first, nil, err, nil
			},
			assert: func(t *testing.T, out outputs) {
				require.Error(t, out.firstErr)
				assert.True(t, errors.HasReason(out.firstErr, errors.ReasonAttemptNotFound))
			},
		},

		"another user's attempt should look like it does not exist": {
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", UserID: "intruder"})
				return first, nil, err, nil
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.firstErr, errors.ReasonAttemptNotFound))
				assert.Equal(t, domain.AttemptStatusInProgress, out.attempt.Status)
			},
		},

		"a foreign answer reference should reject the submission and keep the attempt open": {
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err1 := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c2a"}})
				second, err2 := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a"}})
				return first, second, err1, err2
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, errors.HasReason(out.firstErr, errors.ReasonInvalidAnswerReference))
				require.NoError(t, out.secondErr, "the attempt can still be finished with valid answers")
				assert.False(t, out.second.Duplicate)
				assert.Equal(t, 1, out.second.Summary.Correct)
			},
		},

		"answers arriving after the grace period should be discarded": {
			arrange: func(f *fixture) {
				f.clock.Set(t0.Add(2*time.Minute + 6*time.Second))
			},
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a", "q2": "c2b"}, Trigger: domain.FinishTriggerTimeout})
				return first, nil, err, nil
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.firstErr)
				assert.Equal(t, 0, out.first.Summary.Correct)
				assert.Nil(t, out.first.Results[0].ChosenChoiceID)
			},
		},

		"answers within the grace period should count": {
			arrange: func(f *fixture) {
				f.clock.Set(t0.Add(2*time.Minute + 4*time.Second))
			},
			act: func(ctx context.Context, f *fixture) (*submission.Outcome, *submission.Outcome, error, error) {
				first, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a", "q2": "c2b"}, Trigger: domain.FinishTriggerTimeout})
				return first, nil, err, nil
			},
			assert: func(t *testing.T, out outputs) {
				require.NoError(t, out.firstErr)
				assert.Equal(t, 2, out.first.Summary.Correct)
				assert.Equal(t, t0.Add(2*time.Minute+4*time.Second), out.attempt.FinishTime)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			f := makeFixture(t)
			if tt.arrange != nil {
				tt.arrange(f)
			}

			var out outputs
			out.first, out.second, out.firstErr, out.secondErr = tt.act(ctx, f)
			f.eb.Stop()

			var err error
			out.attempt, err = f.store.GetAttempt(ctx, "a1")
			require.NoError(t, err)
			out.finished = f.finished()

			tt.assert(t, out)
		})
	}
}

func TestCoordinator_ConcurrentFinishScoresOnce(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	const callers = 20
	outcomes := make([]*submission.Outcome, callers)

	var eg errgroup.Group
	for i := 0; i < callers; i++ {
		eg.Go(func() error {
			trigger := domain.FinishTriggerManual
			if i%2 == 0 {
				trigger = domain.FinishTriggerTimeout
			}
			out, err := f.co.Finish(ctx, submission.FinishRequest{
				AttemptID: "a1",
				Answers:   domain.Answers{"q1": "c1a"},
				Trigger:   trigger,
			})
			outcomes[i] = out
			return err
		})
	}
	require.NoError(t, eg.Wait())
	f.eb.Stop()

	winners := 0
	for _, out := range outcomes {
		if !out.Duplicate {
			winners++
		}
		assert.Equal(t, outcomes[0].Results, out.Results)
	}
	assert.Equal(t, 1, winners)
	assert.Len(t, f.finished(), 1)
}

func TestCoordinator_KeepsFirstResultsWhenStoreRepeats(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	// A store that cannot tell duplicates apart: it rescores every call.
	leaky := &repeatingStore{Store: f.store}
	co := submission.NewCoordinator(submission.Config{Store: leaky, Clock: f.clock})

	first, err := co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a"}})
	require.NoError(t, err)

	leaky.reopen("a1")
	second, err := co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1b"}})
	require.NoError(t, err)

	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, 1, second.Summary.Correct)
}

func TestCoordinator_StoreUnavailable(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	down := &failingStore{Store: f.store, err: stderrors.New("connection refused")}
	co := submission.NewCoordinator(submission.Config{Store: down, Clock: f.clock})

	_, err := co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a"}})
	require.Error(t, err)
	assert.True(t, errors.HasReason(err, errors.ReasonStoreUnavailable))
	assert.True(t, errors.Convert(err).Retryable())

	a, err := f.store.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptStatusInProgress, a.Status, "a failed finish leaves the attempt open")

	// Retrying once the store is back finishes normally.
	out, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q1": "c1a"}})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
}

func TestCoordinator_ResultsRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	_, err := f.co.Results(ctx, submission.ResultsRequest{AttemptID: "a1"})
	assert.True(t, errors.HasReason(err, errors.ReasonNotFinished))

	finished, err := f.co.Finish(ctx, submission.FinishRequest{AttemptID: "a1", Answers: domain.Answers{"q2": "c2b"}})
	require.NoError(t, err)

	// A fresh coordinator has no cache and must go back to the store.
	restarted := submission.NewCoordinator(submission.Config{Store: f.store, Clock: f.clock})
	fetched, err := restarted.Results(ctx, submission.ResultsRequest{AttemptID: "a1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, finished.Results, fetched.Results)
	assert.Equal(t, finished.Summary, fetched.Summary)
}

func TestCoordinator_Observe(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	f.clock.Set(t0.Add(119 * time.Second))
	obs, err := f.co.Observe(ctx, submission.ObserveRequest{AttemptID: "a1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, obs.Remaining)
	assert.Nil(t, obs.Outcome)

	f.clock.Set(t0.Add(121 * time.Second))
	obs, err = f.co.Observe(ctx, submission.ObserveRequest{AttemptID: "a1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0, obs.Remaining)
	assert.Nil(t, obs.Outcome, "inside the grace window the draft may still arrive")
	assert.Equal(t, domain.AttemptStatusInProgress, obs.Attempt.Status)

	f.clock.Set(t0.Add(126 * time.Second))
	obs, err = f.co.Observe(ctx, submission.ObserveRequest{AttemptID: "a1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0, obs.Remaining)
	require.NotNil(t, obs.Outcome, "an attempt past its grace is finished on observation")
	assert.Equal(t, domain.AttemptStatusFinished, obs.Attempt.Status)

	again, err := f.co.Observe(ctx, submission.ObserveRequest{AttemptID: "a1", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, obs.Outcome.Results, again.Outcome.Results)

	f.eb.Stop()
	finished := f.finished()
	require.Len(t, finished, 1)
	assert.Equal(t, domain.FinishTriggerSweep, finished[0].Trigger)
}

func TestCoordinator_Sweep(t *testing.T) {
	ctx := context.Background()
	f := makeFixture(t)

	a, err := f.store.GetAttempt(ctx, "a1")
	require.NoError(t, err)

	out, swept, err := f.co.Sweep(ctx, a)
	require.NoError(t, err)
	assert.False(t, swept, "time is left")
	assert.Nil(t, out)

	f.clock.Set(t0.Add(123 * time.Second))
	_, swept, err = f.co.Sweep(ctx, a)
	require.NoError(t, err)
	assert.False(t, swept, "still inside the grace window")

	f.clock.Set(t0.Add(10 * time.Minute))
	out, swept, err = f.co.Sweep(ctx, a)
	require.NoError(t, err)
	require.True(t, swept)
	assert.Equal(t, 0, out.Summary.Correct)
	for _, r := range out.Results {
		assert.Nil(t, r.ChosenChoiceID)
	}

	a, err = f.store.GetAttempt(ctx, "a1")
	require.NoError(t, err)
	_, swept, err = f.co.Sweep(ctx, a)
	require.NoError(t, err)
	assert.False(t, swept, "a finished attempt is left alone")
}

type fixture struct {
	store *memory.Store
	clock *clock.Fake
	eb    *event.Bus
	co    *submission.Coordinator

	mu     sync.Mutex
	events []domain.EventAttemptFinished
}

func (f *fixture) finished() []domain.EventAttemptFinished {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.EventAttemptFinished(nil), f.events...)
}

func makeFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store: memory.NewStore(),
		clock: clock.NewFake(t0.Add(30 * time.Second)),
		eb:    event.NewBus(),
	}

	f.store.PutQuiz(domain.Quiz{
		QuizID:    "quiz1",
		Title:     "Two questions",
		TimeLimit: 2 * time.Minute,
		Published: true,
	}, []domain.Question{
		{
			QuestionID:   "q1",
			QuizID:       "quiz1",
			DisplayOrder: 1,
			Choices: []domain.Choice{
				{ChoiceID: "c1a", QuestionID: "q1"},
				{ChoiceID: "c1b", QuestionID: "q1"},
			},
		},
		{
			QuestionID:   "q2",
			QuizID:       "quiz1",
			DisplayOrder: 2,
			Choices: []domain.Choice{
				{ChoiceID: "c2a", QuestionID: "q2"},
				{ChoiceID: "c2b", QuestionID: "q2"},
			},
		},
	}, domain.AnswerKey{"q1": "c1a", "q2": "c2b"})

	require.NoError(t, f.store.CreateAttempt(context.Background(), &domain.Attempt{
		AttemptID: "a1",
		QuizID:    "quiz1",
		UserID:    "u1",
		StartedAt: t0,
		EndsAt:    t0.Add(2 * time.Minute),
		Status:    domain.AttemptStatusInProgress,
	}))

	f.eb.Subscribe(domain.EventNameAttemptFinished, func(ctx context.Context, e event.Event) error {
		f.mu.Lock()
		f.events = append(f.events, e.(domain.EventAttemptFinished))
		f.mu.Unlock()
		return nil
	})

	f.co = submission.NewCoordinator(submission.Config{
		Store:    f.store,
		Clock:    f.clock,
		EventBus: f.eb,
	})

	return f
}

type failingStore struct {
	*memory.Store
	err error
}

func (s *failingStore) FinishAttempt(context.Context, store.FinishAttemptRequest) ([]domain.Result, error) {
	return nil, s.err
}

// repeatingStore forgets that an attempt was finished when told to, so every finish rescores.
type repeatingStore struct {
	*memory.Store
	mu       sync.Mutex
	reopened map[string]bool
}

func (s *repeatingStore) reopen(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reopened == nil {
		s.reopened = make(map[string]bool)
	}
	s.reopened[attemptID] = true
}

func (s *repeatingStore) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	a, err := s.Store.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reopened[attemptID] {
		a.Status = domain.AttemptStatusInProgress
	}
	return a, nil
}

func (s *repeatingStore) FinishAttempt(ctx context.Context, req store.FinishAttemptRequest) ([]domain.Result, error) {
	results, err := s.Store.FinishAttempt(ctx, req)
	if errors.HasReason(err, errors.ReasonAlreadyFinished) {
		return []domain.Result{{QuestionID: "q1", CorrectChoiceID: "c1a"}}, nil
	}
	return results, err
}
