package store

import (
	"time"

	"github.com/victornm/tquiz/internal/domain"
)

// Seed is a quiz with its questions and answer key, as loaded into a fresh store.
type Seed struct {
	Quiz      domain.Quiz
	Questions []domain.Question
	Key       domain.AnswerKey
}

// SampleSeed is a small published quiz so a fresh server has something to serve.
func SampleSeed(now time.Time) Seed {
	q := domain.Quiz{
		QuizID:      "go-basics",
		Title:       "Go basics",
		Description: "A two minute warm-up on the Go language.",
		TimeLimit:   2 * time.Minute,
		Published:   true,
		CreateTime:  now,
	}

	questions := []domain.Question{
		{
			QuestionID:   "go-basics-1",
			QuizID:       q.QuizID,
			Body:         "Which keyword starts a goroutine?",
			Explanation:  "The go statement runs a function call in a new goroutine.",
			DisplayOrder: 1,
			Choices: []domain.Choice{
				{ChoiceID: "go-basics-1-a", QuestionID: "go-basics-1", Body: "go"},
				{ChoiceID: "go-basics-1-b", QuestionID: "go-basics-1", Body: "async"},
				{ChoiceID: "go-basics-1-c", QuestionID: "go-basics-1", Body: "spawn"},
			},
		},
		{
			QuestionID:   "go-basics-2",
			QuizID:       q.QuizID,
			Body:         "What is the zero value of a map?",
			Explanation:  "An uninitialized map is nil; reads work, writes panic.",
			DisplayOrder: 2,
			Choices: []domain.Choice{
				{ChoiceID: "go-basics-2-a", QuestionID: "go-basics-2", Body: "An empty map"},
				{ChoiceID: "go-basics-2-b", QuestionID: "go-basics-2", Body: "nil"},
			},
		},
	}

	return Seed{
		Quiz:      q,
		Questions: questions,
		Key: domain.AnswerKey{
			"go-basics-1": "go-basics-1-a",
			"go-basics-2": "go-basics-2-b",
		},
	}
}
