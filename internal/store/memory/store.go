// Package memory is an in-process Store, used when no database is configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/scoring"
	"github.com/victornm/tquiz/internal/store"
)

// Store keeps quizzes, attempts and results in maps guarded by one mutex, which also serializes
// concurrent finishes of the same attempt.
type Store struct {
	mu        sync.RWMutex
	quizzes   map[string]domain.Quiz
	questions map[string][]domain.Question
	keys      map[string]domain.AnswerKey
	attempts  map[string]domain.Attempt
	results   map[string][]domain.Result
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		quizzes:   make(map[string]domain.Quiz),
		questions: make(map[string][]domain.Question),
		keys:      make(map[string]domain.AnswerKey),
		attempts:  make(map[string]domain.Attempt),
		results:   make(map[string][]domain.Result),
	}
}

// PutQuiz stores a quiz with its questions and answer key, replacing any previous version.
func (s *Store) PutQuiz(q domain.Quiz, questions []domain.Question, key domain.AnswerKey) {
	qs := make([]domain.Question, len(questions))
	copy(qs, questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].DisplayOrder < qs[j].DisplayOrder })

	k := make(domain.AnswerKey, len(key))
	for qid, cid := range key {
		k[qid] = cid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.quizzes[q.QuizID] = q
	s.questions[q.QuizID] = qs
	s.keys[q.QuizID] = k
}

func (s *Store) ListQuizzes(_ context.Context) ([]domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quizzes := make([]domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		if q.Published {
			quizzes = append(quizzes, q)
		}
	}

	sort.Slice(quizzes, func(i, j int) bool {
		if !quizzes[i].CreateTime.Equal(quizzes[j].CreateTime) {
			return quizzes[i].CreateTime.Before(quizzes[j].CreateTime)
		}
		return quizzes[i].QuizID < quizzes[j].QuizID
	})

	return quizzes, nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (*domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quizzes[quizID]
	if !ok {
		return nil, store.QuizNotFound(quizID)
	}

	return &q, nil
}

func (s *Store) GetQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.quizzes[quizID]; !ok {
		return nil, store.QuizNotFound(quizID)
	}

	return cloneQuestions(s.questions[quizID]), nil
}

func (s *Store) CreateAttempt(_ context.Context, a *domain.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.quizzes[a.QuizID]; !ok {
		return store.QuizNotFound(a.QuizID)
	}

	s.attempts[a.AttemptID] = *a
	return nil
}

func (s *Store) GetAttempt(_ context.Context, attemptID string) (*domain.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, store.AttemptNotFound(attemptID)
	}

	return &a, nil
}

func (s *Store) FinishAttempt(_ context.Context, req store.FinishAttemptRequest) ([]domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[req.AttemptID]
	if !ok {
		return nil, store.AttemptNotFound(req.AttemptID)
	}

	if a.Finished() {
		return nil, store.AlreadyFinished(req.AttemptID)
	}

	questions := s.questions[a.QuizID]
	if err := scoring.Validate(questions, req.Answers); err != nil {
		return nil, err
	}

	results := scoring.Score(questions, s.keys[a.QuizID], req.Answers)

	a.Status = domain.AttemptStatusFinished
	a.FinishTime = req.FinishTime
	s.attempts[a.AttemptID] = a
	s.results[a.AttemptID] = results

	return cloneResults(results), nil
}

func (s *Store) GetResults(_ context.Context, attemptID string) ([]domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attemptID]
	if !ok {
		return nil, store.AttemptNotFound(attemptID)
	}

	if !a.Finished() {
		return nil, store.NotFinished(attemptID)
	}

	return cloneResults(s.results[attemptID]), nil
}

func cloneQuestions(qs []domain.Question) []domain.Question {
	out := make([]domain.Question, len(qs))
	for i, q := range qs {
		q.Choices = append([]domain.Choice(nil), q.Choices...)
		out[i] = q
	}
	return out
}

func cloneResults(rs []domain.Result) []domain.Result {
	return append([]domain.Result(nil), rs...)
}
