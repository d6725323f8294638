package scoring_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/tquiz/internal/domain"
	"github.com/victornm/tquiz/internal/errors"
	"github.com/victornm/tquiz/internal/scoring"
)

func TestScore(t *testing.T) {
	type (
		inputs struct {
			questions []domain.Question
			key       domain.AnswerKey
			answers   domain.Answers
		}

		outputs struct {
			results []domain.Result
			summary domain.Summary
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"one right and one wrong answer should score 1/2": {
			arrange: func() inputs {
				return inputs{
					questions: twoQuestions(),
					key:       twoQuestionKey(),
					answers:   domain.Answers{"q1": "c1a", "q2": "c2a"},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.results, 2)
				assert.Equal(t, domain.Result{
					QuestionID:      "q1",
					ChosenChoiceID:  ptr("c1a"),
					CorrectChoiceID: "c1a",
					IsCorrect:       true,
					Explanation:     "e1",
				}, out.results[0])
				assert.Equal(t, domain.Result{
					QuestionID:      "q2",
					ChosenChoiceID:  ptr("c2a"),
					CorrectChoiceID: "c2b",
					IsCorrect:       false,
					Explanation:     "e2",
				}, out.results[1])
				assert.Equal(t, 1, out.summary.Correct)
				assert.Equal(t, 2, out.summary.Total)
				assert.True(t, decimal.RequireFromString("0.5").Equal(out.summary.Ratio))
			},
		},

		"an unanswered question should have no chosen choice and be incorrect": {
			arrange: func() inputs {
				return inputs{
					questions: twoQuestions(),
					key:       twoQuestionKey(),
					answers:   domain.Answers{"q1": "c1a"},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.results, 2)
				assert.Nil(t, out.results[1].ChosenChoiceID)
				assert.False(t, out.results[1].IsCorrect)
				assert.Equal(t, "c2b", out.results[1].CorrectChoiceID)
			},
		},

		"results should follow display order, not input order": {
			arrange: func() inputs {
				qs := twoQuestions()
				qs[0], qs[1] = qs[1], qs[0]
				return inputs{
					questions: qs,
					key:       twoQuestionKey(),
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.results, 2)
				assert.Equal(t, "q1", out.results[0].QuestionID)
				assert.Equal(t, "q2", out.results[1].QuestionID)
				assert.Equal(t, 0, out.summary.Correct)
			},
		},

		"an empty quiz should score zero without dividing by zero": {
			arrange: func() inputs {
				return inputs{}
			},

			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.results)
				assert.True(t, decimal.Zero.Equal(out.summary.Ratio))
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			results := scoring.Score(in.questions, in.key, in.answers)
			tt.assert(t, outputs{
				results: results,
				summary: scoring.Summarize(results),
			})
		})
	}
}

func TestScore_ChoiceDisplayOrderDoesNotMatter(t *testing.T) {
	answers := domain.Answers{"q1": "c1b", "q2": "c2b"}
	want := scoring.Score(twoQuestions(), twoQuestionKey(), answers)

	shuffled := twoQuestions()
	for i := range shuffled {
		cs := shuffled[i].Choices
		for l, r := 0, len(cs)-1; l < r; l, r = l+1, r-1 {
			cs[l], cs[r] = cs[r], cs[l]
		}
	}

	assert.Equal(t, want, scoring.Score(shuffled, twoQuestionKey(), answers))
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		answers domain.Answers
		wantErr bool
	}{
		"answers within the quiz are accepted": {
			answers: domain.Answers{"q1": "c1b", "q2": "c2a"},
		},
		"no answers at all are accepted": {
			answers: domain.Answers{},
		},
		"a question from another quiz is rejected": {
			answers: domain.Answers{"q1": "c1a", "qx": "c1a"},
			wantErr: true,
		},
		"a choice from another question is rejected": {
			answers: domain.Answers{"q1": "c2b"},
			wantErr: true,
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := scoring.Validate(twoQuestions(), tt.answers)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.HasReason(err, errors.ReasonInvalidAnswerReference))
			assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument))
		})
	}
}

func twoQuestions() []domain.Question {
	return []domain.Question{
		{
			QuestionID:   "q1",
			QuizID:       "quiz1",
			Body:         "Q1",
			Explanation:  "e1",
			DisplayOrder: 1,
			Choices: []domain.Choice{
				{ChoiceID: "c1a", QuestionID: "q1", Body: "A"},
				{ChoiceID: "c1b", QuestionID: "q1", Body: "B"},
			},
		},
		{
			QuestionID:   "q2",
			QuizID:       "quiz1",
			Body:         "Q2",
			Explanation:  "e2",
			DisplayOrder: 2,
			Choices: []domain.Choice{
				{ChoiceID: "c2a", QuestionID: "q2", Body: "A"},
				{ChoiceID: "c2b", QuestionID: "q2", Body: "B"},
			},
		},
	}
}

func twoQuestionKey() domain.AnswerKey {
	return domain.AnswerKey{"q1": "c1a", "q2": "c2b"}
}

func ptr(s string) *string { return &s }
