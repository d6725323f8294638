// Package store defines the quiz/question store the attempt core talks to.
//
// The store owns persistence and is the authority for "first finish wins": FinishAttempt flips the
// attempt status and records its results in one step, and reports a duplicate call with
// errors.ReasonAlreadyFinished.
package store

import (
	"context"
	"time"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
)

type Store interface {
	// ListQuizzes returns published quizzes ordered by creation time.
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
	GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error)
	// GetQuestions returns the quiz questions in display order with their choices attached.
	GetQuestions(ctx context.Context, quizID string) ([]domain.Question, error)

	CreateAttempt(ctx context.Context, a *domain.Attempt) error
	GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error)
	FinishAttempt(ctx context.Context, req FinishAttemptRequest) ([]domain.Result, error)
	GetResults(ctx context.Context, attemptID string) ([]domain.Result, error)
}

type FinishAttemptRequest struct {
	AttemptID  string
	Answers    domain.Answers
	FinishTime time.Time
}

func QuizNotFound(quizID string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonQuizNotFound),
		errors.WithMessagef("quiz not found: %s", quizID),
	)
}

func AttemptNotFound(attemptID string) *errors.Error {
	return errors.New(errors.CodeNotFound,
		errors.WithReason(errors.ReasonAttemptNotFound),
		errors.WithMessagef("attempt not found: %s", attemptID),
	)
}

func AlreadyFinished(attemptID string) *errors.Error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonAlreadyFinished),
		errors.WithMessagef("attempt already finished: %s", attemptID),
	)
}

func NotFinished(attemptID string) *errors.Error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonNotFinished),
		errors.WithMessagef("attempt not finished yet: %s", attemptID),
	)
}

// Classify keeps store errors that already carry a code and marks anything else as a retryable
// store failure.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if _, ok := errors.As(err); ok {
		return err
	}

	return errors.Unavailable(err)
}
