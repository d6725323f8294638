package api

import (
	"strconv"
	"time"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/submission"
)

type (
	ErrorResponse struct {
		Error *errors.Error `json:"error"`
	}

	Quiz struct {
		QuizID           string    `json:"quiz_id"`
		Title            string    `json:"title"`
		Description      string    `json:"description"`
		TimeLimitSeconds int       `json:"time_limit_seconds"`
		CreateTime       time.Time `json:"create_time"`
	}

	ListQuizzesResponse struct {
		Quizzes []Quiz `json:"quizzes"`
	}

	Choice struct {
		ChoiceID string `json:"choice_id"`
		Body     string `json:"body"`
	}

	Question struct {
		QuestionID   string   `json:"question_id"`
		Body         string   `json:"body"`
		DisplayOrder int      `json:"display_order"`
		Choices      []Choice `json:"choices"`
	}

	Bundle struct {
		Quiz      Quiz       `json:"quiz"`
		Questions []Question `json:"questions"`
	}

	Attempt struct {
		AttemptID        string     `json:"attempt_id"`
		QuizID           string     `json:"quiz_id"`
		Status           string     `json:"status"`
		StartedAt        time.Time  `json:"started_at"`
		EndsAt           time.Time  `json:"ends_at"`
		RemainingSeconds int        `json:"remaining_seconds"`
		FinishTime       *time.Time `json:"finish_time,omitempty"`
	}

	Result struct {
		QuestionID      string  `json:"question_id"`
		ChosenChoiceID  *string `json:"chosen_choice_id"`
		CorrectChoiceID string  `json:"correct_choice_id"`
		IsCorrect       bool    `json:"is_correct"`
		Explanation     string  `json:"explanation"`
	}

	Summary struct {
		Correct int    `json:"correct"`
		Total   int    `json:"total"`
		Ratio   string `json:"ratio"`
	}

	Outcome struct {
		Attempt Attempt  `json:"attempt"`
		Results []Result `json:"results"`
		Summary Summary  `json:"summary"`
	}

	GetAttemptResponse struct {
		Attempt Attempt  `json:"attempt"`
		Outcome *Outcome `json:"outcome,omitempty"`
	}

	FinishAttemptRequest struct {
		Answers domain.Answers `json:"answers"`
	}

	Leaderboard struct {
		QuizID  string             `json:"quiz_id"`
		Entries []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID string `json:"user_id"`
		Score  string `json:"score"`
	}
)

func toQuiz(q domain.Quiz) Quiz {
	return Quiz{
		QuizID:           q.QuizID,
		Title:            q.Title,
		Description:      q.Description,
		TimeLimitSeconds: int(q.TimeLimit / time.Second),
		CreateTime:       q.CreateTime,
	}
}

func toBundle(b domain.Bundle) Bundle {
	resp := Bundle{
		Quiz:      toQuiz(b.Quiz),
		Questions: make([]Question, 0, len(b.Questions)),
	}

	for _, q := range b.Questions {
		qs := Question{
			QuestionID:   q.QuestionID,
			Body:         q.Body,
			DisplayOrder: q.DisplayOrder,
			Choices:      make([]Choice, 0, len(q.Choices)),
		}
		for _, c := range q.Choices {
			qs.Choices = append(qs.Choices, Choice{ChoiceID: c.ChoiceID, Body: c.Body})
		}
		resp.Questions = append(resp.Questions, qs)
	}

	return resp
}

func toAttempt(a domain.Attempt, remaining int) Attempt {
	resp := Attempt{
		AttemptID:        a.AttemptID,
		QuizID:           a.QuizID,
		Status:           string(a.Status),
		StartedAt:        a.StartedAt,
		EndsAt:           a.EndsAt,
		RemainingSeconds: remaining,
	}

	if a.Finished() {
		t := a.FinishTime
		resp.FinishTime = &t
		resp.RemainingSeconds = 0
	}

	return resp
}

func toOutcome(o *submission.Outcome) Outcome {
	resp := Outcome{
		Attempt: toAttempt(o.Attempt, 0),
		Results: make([]Result, 0, len(o.Results)),
		Summary: Summary{
			Correct: o.Summary.Correct,
			Total:   o.Summary.Total,
			Ratio:   o.Summary.Ratio.StringFixed(4),
		},
	}

	for _, r := range o.Results {
		resp.Results = append(resp.Results, Result{
			QuestionID:      r.QuestionID,
			ChosenChoiceID:  r.ChosenChoiceID,
			CorrectChoiceID: r.CorrectChoiceID,
			IsCorrect:       r.IsCorrect,
			Explanation:     r.Explanation,
		})
	}

	return resp
}

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	resp := Leaderboard{
		QuizID:  l.QuizID,
		Entries: make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		resp.Entries = append(resp.Entries, LeaderboardEntry{
			UserID: e.UserID,
			Score:  strconv.FormatFloat(e.Score, 'f', -1, 64),
		})
	}

	return resp
}
