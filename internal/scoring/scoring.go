// Package scoring turns submitted answers into per-question results.
//
// Correctness is always decided by comparing stable choice identifiers against the answer key.
// The order in which choices were shown to the user plays no part.
package scoring

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
)

const ratioPlaces = 4

// Score returns one result per question, in display order. Questions missing from answers are
// unanswered: ChosenChoiceID is nil and IsCorrect is false.
func Score(questions []domain.Question, key domain.AnswerKey, answers domain.Answers) []domain.Result {
	ordered := sortByDisplayOrder(questions)

	results := make([]domain.Result, 0, len(ordered))
	for _, q := range ordered {
		r := domain.Result{
			QuestionID:      q.QuestionID,
			CorrectChoiceID: key[q.QuestionID],
			Explanation:     q.Explanation,
		}

		if chosen, ok := answers[q.QuestionID]; ok {
			chosen := chosen
			r.ChosenChoiceID = &chosen
			r.IsCorrect = r.CorrectChoiceID != "" && chosen == r.CorrectChoiceID
		}

		results = append(results, r)
	}

	return results
}

// Validate rejects the whole submission if any answer points at a question outside the quiz, or
// at a choice that does not belong to the referenced question.
func Validate(questions []domain.Question, answers domain.Answers) error {
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.QuestionID] = q
	}

	var invalid []string
	for qid, cid := range answers {
		q, ok := byID[qid]
		switch {
		case !ok:
			invalid = append(invalid, fmt.Sprintf("question %s is not part of the quiz", qid))
		case !q.HasChoice(cid):
			invalid = append(invalid, fmt.Sprintf("choice %s does not belong to question %s", cid, qid))
		}
	}

	if len(invalid) == 0 {
		return nil
	}

	sort.Strings(invalid)
	return errors.New(errors.CodeInvalidArgument,
		errors.WithReason(errors.ReasonInvalidAnswerReference),
		errors.WithMessagef("invalid answers: %s", strings.Join(invalid, "; ")),
	)
}

// Summarize counts correct results over the total question count.
func Summarize(results []domain.Result) domain.Summary {
	s := domain.Summary{
		Total: len(results),
		Ratio: decimal.Zero,
	}

	for _, r := range results {
		if r.IsCorrect {
			s.Correct++
		}
	}

	if s.Total > 0 {
		s.Ratio = decimal.NewFromInt(int64(s.Correct)).
			DivRound(decimal.NewFromInt(int64(s.Total)), ratioPlaces)
	}

	return s
}

func sortByDisplayOrder(questions []domain.Question) []domain.Question {
	ordered := make([]domain.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].DisplayOrder < ordered[j].DisplayOrder
	})
	return ordered
}
