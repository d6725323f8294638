// Package postgres is the Store backed by PostgreSQL through pgx.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/scoring"
	"github.com/victornm/tquiz/internal/store"
)

const codeForeignKeyViolation = "23503"

type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectQuiz = `SELECT quiz_id, title, description, time_limit_seconds, is_published, create_time FROM quizzes`

func (s *Store) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	rows, err := s.db.Query(ctx, selectQuiz+` WHERE is_published ORDER BY create_time, quiz_id;`)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}

	quizzes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Quiz, error) {
		return scanQuiz(r)
	})
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}

	return quizzes, nil
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (*domain.Quiz, error) {
	q, err := scanQuiz(s.db.QueryRow(ctx, selectQuiz+` WHERE quiz_id = $1;`, quizID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.QuizNotFound(quizID)
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	return &q, nil
}

func (s *Store) GetQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	if _, err := s.GetQuiz(ctx, quizID); err != nil {
		return nil, err
	}

	questions, _, err := loadQuestions(ctx, s.db, quizID)
	return questions, err
}

func (s *Store) CreateAttempt(ctx context.Context, a *domain.Attempt) error {
	const stmt = `
INSERT INTO attempts (attempt_id, quiz_id, user_id, started_at, ends_at, status)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, a.AttemptID, a.QuizID, a.UserID, a.StartedAt, a.EndsAt, string(a.Status))

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return store.QuizNotFound(a.QuizID)
	}
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attemptID string) (*domain.Attempt, error) {
	const stmt = `
SELECT attempt_id, quiz_id, user_id, started_at, ends_at, status, finish_time
FROM attempts
WHERE attempt_id = $1;`

	var (
		a          domain.Attempt
		status     string
		finishTime *time.Time
	)
	err := s.db.QueryRow(ctx, stmt, attemptID).
		Scan(&a.AttemptID, &a.QuizID, &a.UserID, &a.StartedAt, &a.EndsAt, &status, &finishTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.AttemptNotFound(attemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	a.StartedAt = a.StartedAt.UTC()
	a.EndsAt = a.EndsAt.UTC()
	a.Status = domain.AttemptStatus(status)
	if finishTime != nil {
		a.FinishTime = finishTime.UTC()
	}

	return &a, nil
}

// FinishAttempt locks the attempt row, scores the answers and records results and the status
// flip in one transaction. Concurrent calls for the same attempt queue on the row lock; all but
// the first see it finished.
func (s *Store) FinishAttempt(ctx context.Context, req store.FinishAttemptRequest) (results []domain.Result, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	var quizID, status string
	err = tx.QueryRow(ctx, `SELECT quiz_id, status FROM attempts WHERE attempt_id = $1 FOR UPDATE;`, req.AttemptID).
		Scan(&quizID, &status)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, store.AttemptNotFound(req.AttemptID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock attempt: %w", err)
	}

	if domain.AttemptStatus(status) == domain.AttemptStatusFinished {
		return nil, store.AlreadyFinished(req.AttemptID)
	}

	questions, key, err := loadQuestions(ctx, tx, quizID)
	if err != nil {
		return nil, err
	}

	if err = scoring.Validate(questions, req.Answers); err != nil {
		return nil, err
	}

	results = scoring.Score(questions, key, req.Answers)

	const insResultStmt = `
INSERT INTO attempt_results (attempt_id, question_id, display_order, chosen_choice_id, correct_choice_id, is_correct, explanation)
VALUES ($1, $2, $3, $4, $5, $6, $7);`

	order := make(map[string]int, len(questions))
	for _, q := range questions {
		order[q.QuestionID] = q.DisplayOrder
	}

	batch := &pgx.Batch{}
	for _, r := range results {
		batch.Queue(insResultStmt, req.AttemptID, r.QuestionID, order[r.QuestionID], r.ChosenChoiceID, r.CorrectChoiceID, r.IsCorrect, r.Explanation)
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert results: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE attempts SET status = $2, finish_time = $3 WHERE attempt_id = $1;`,
		req.AttemptID, string(domain.AttemptStatusFinished), req.FinishTime)
	if err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return results, nil
}

func (s *Store) GetResults(ctx context.Context, attemptID string) ([]domain.Result, error) {
	a, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if !a.Finished() {
		return nil, store.NotFinished(attemptID)
	}

	const stmt = `
SELECT question_id, chosen_choice_id, correct_choice_id, is_correct, explanation
FROM attempt_results
WHERE attempt_id = $1
ORDER BY display_order;`

	rows, err := s.db.Query(ctx, stmt, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Result, error) {
		var res domain.Result
		err := r.Scan(&res.QuestionID, &res.ChosenChoiceID, &res.CorrectChoiceID, &res.IsCorrect, &res.Explanation)
		return res, err
	})
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}

	return results, nil
}

// PutQuiz upserts a quiz with its questions, choices and answer key in one transaction.
func (s *Store) PutQuiz(ctx context.Context, seed store.Seed) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	q := seed.Quiz
	const upsertQuizStmt = `
INSERT INTO quizzes (quiz_id, title, description, time_limit_seconds, is_published, create_time)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (quiz_id) DO UPDATE
SET title = EXCLUDED.title,
    description = EXCLUDED.description,
    time_limit_seconds = EXCLUDED.time_limit_seconds,
    is_published = EXCLUDED.is_published;`

	_, err = tx.Exec(ctx, upsertQuizStmt, q.QuizID, q.Title, q.Description, int(q.TimeLimit/time.Second), q.Published, q.CreateTime)
	if err != nil {
		return fmt.Errorf("upsert quiz: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM questions WHERE quiz_id = $1;`, q.QuizID); err != nil {
		return fmt.Errorf("delete questions: %w", err)
	}

	batch := &pgx.Batch{}
	for _, qs := range seed.Questions {
		batch.Queue(`INSERT INTO questions (question_id, quiz_id, body, explanation, display_order, correct_choice_id) VALUES ($1, $2, $3, $4, $5, $6);`,
			qs.QuestionID, q.QuizID, qs.Body, qs.Explanation, qs.DisplayOrder, seed.Key[qs.QuestionID])
		for _, c := range qs.Choices {
			batch.Queue(`INSERT INTO choices (choice_id, question_id, body) VALUES ($1, $2, $3);`,
				c.ChoiceID, qs.QuestionID, c.Body)
		}
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

func loadQuestions(ctx context.Context, q querier, quizID string) ([]domain.Question, domain.AnswerKey, error) {
	const stmt = `
SELECT q.question_id, q.body, q.explanation, q.display_order, q.correct_choice_id, c.choice_id, c.body
FROM questions q
LEFT JOIN choices c ON c.question_id = q.question_id
WHERE q.quiz_id = $1
ORDER BY q.display_order, c.choice_id;`

	rows, err := q.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var (
		questions []domain.Question
		key       = make(domain.AnswerKey)
	)
	for rows.Next() {
		var (
			qs         domain.Question
			correct    string
			choiceID   *string
			choiceBody *string
		)
		if err := rows.Scan(&qs.QuestionID, &qs.Body, &qs.Explanation, &qs.DisplayOrder, &correct, &choiceID, &choiceBody); err != nil {
			return nil, nil, fmt.Errorf("scan question: %w", err)
		}

		if n := len(questions); n == 0 || questions[n-1].QuestionID != qs.QuestionID {
			qs.QuizID = quizID
			questions = append(questions, qs)
			key[qs.QuestionID] = correct
		}

		if choiceID != nil {
			last := &questions[len(questions)-1]
			last.Choices = append(last.Choices, domain.Choice{
				ChoiceID:   *choiceID,
				QuestionID: last.QuestionID,
				Body:       deref(choiceBody),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("load questions: %w", err)
	}

	return questions, key, nil
}

func scanQuiz(r pgx.Row) (domain.Quiz, error) {
	var (
		q       domain.Quiz
		seconds int
	)
	if err := r.Scan(&q.QuizID, &q.Title, &q.Description, &seconds, &q.Published, &q.CreateTime); err != nil {
		return domain.Quiz{}, err
	}

	q.TimeLimit = time.Duration(seconds) * time.Second
	q.CreateTime = q.CreateTime.UTC()
	return q, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
