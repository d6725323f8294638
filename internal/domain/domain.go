package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quiz is a published, timed set of questions. Immutable once published.
type Quiz struct {
	QuizID      string
	Title       string
	Description string
	TimeLimit   time.Duration
	Published   bool
	CreateTime  time.Time
}

type Question struct {
	QuestionID   string
	QuizID       string
	Body         string
	Explanation  string
	DisplayOrder int
	Choices      []Choice
}

// HasChoice reports whether choiceID belongs to the question.
func (q Question) HasChoice(choiceID string) bool {
	for _, c := range q.Choices {
		if c.ChoiceID == choiceID {
			return true
		}
	}
	return false
}

// Choice carries no correctness; the answer key is kept apart so it never reaches a client before scoring.
type Choice struct {
	ChoiceID   string
	QuestionID string
	Body       string
}

// AnswerKey maps a question ID to its correct choice ID.
type AnswerKey map[string]string

// Bundle is everything a client needs to render a quiz.
type Bundle struct {
	Quiz      Quiz
	Questions []Question
}

type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusFinished   AttemptStatus = "finished"
)

// Attempt is a single timed run of one user through one quiz.
// EndsAt is fixed when the attempt is created and is the only deadline that counts.
type Attempt struct {
	AttemptID  string
	QuizID     string
	UserID     string
	StartedAt  time.Time
	EndsAt     time.Time
	Status     AttemptStatus
	FinishTime time.Time
}

func (a *Attempt) Finished() bool {
	return a != nil && a.Status == AttemptStatusFinished
}

// Answers maps a question ID to the chosen choice ID. Unanswered questions are absent.
type Answers map[string]string

// Result is the scored outcome of one question within one attempt.
type Result struct {
	QuestionID      string
	ChosenChoiceID  *string
	CorrectChoiceID string
	IsCorrect       bool
	Explanation     string
}

// Summary is the aggregate score of an attempt.
type Summary struct {
	Correct int
	Total   int
	Ratio   decimal.Decimal
}

// FinishTrigger names what caused a finish call. Every trigger goes through the same scoring path.
type FinishTrigger string

const (
	FinishTriggerManual  FinishTrigger = "manual"
	FinishTriggerTimeout FinishTrigger = "timeout"
	FinishTriggerSweep   FinishTrigger = "sweep"
)

// Leaderboard lists users by their best score ratio within a quiz, highest first.
type Leaderboard struct {
	QuizID  string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID string
	Score  float64
}
