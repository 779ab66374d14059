package exam

import (
	"fmt"
	"math"
	"strings"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// Answer is a learner's response to one question. Choice questions use
// Selected, short answers use Text.
type Answer struct {
	Selected []string `json:"selected,omitempty"`
	Text     string   `json:"text,omitempty"`
}

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	Awarded  int  `json:"awarded"`
	Correct  bool `json:"correct"`
	Answered bool `json:"answered"`
}

// Grade is the outcome of grading an answer sheet against a definition.
type Grade struct {
	Score      int
	Percentage int
	Passed     bool
	Results    map[string]QuestionResult
}

// GradeAnswers scores every question. Unanswered questions score 0.
// Percentage is round(score/totalPoints*100) and passed compares it against
// passingScore, which callers pass in from their snapshot.
func GradeAnswers(questions []Question, answers map[string]Answer, totalPoints, passingScore int) Grade {
	g := Grade{Results: make(map[string]QuestionResult, len(questions))}

	for _, q := range questions {
		ans, ok := answers[q.ID()]
		res := QuestionResult{Answered: ok}
		if ok && gradeQuestion(q, ans) {
			res.Correct = true
			res.Awarded = q.Points()
		}
		g.Score += res.Awarded
		g.Results[q.ID()] = res
	}

	if totalPoints > 0 {
		g.Percentage = int(math.Round(float64(g.Score) / float64(totalPoints) * 100))
	}
	g.Passed = g.Percentage >= passingScore
	return g
}

// gradeQuestion reports whether ans earns full points for q. There is no
// partial credit.
func gradeQuestion(q Question, ans Answer) bool {
	switch v := q.(type) {
	case MultipleChoice:
		return sameSet(correctOptionIDs(v.Options), ans.Selected)
	case TrueFalse:
		return sameSet(correctOptionIDs(v.Options), ans.Selected)
	case ShortAnswer:
		return matchesAny(ans.Text, v.Accepted)
	default:
		panic(fmt.Sprintf("exam: unhandled question type %T", q))
	}
}

func correctOptionIDs(options []Option) map[string]struct{} {
	ids := make(map[string]struct{}, len(options))
	for _, o := range options {
		if o.Correct {
			ids[o.ID] = struct{}{}
		}
	}
	return ids
}

// sameSet compares want against the de-duplicated selection.
func sameSet(want map[string]struct{}, selected []string) bool {
	got := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		got[id] = struct{}{}
	}
	if len(got) != len(want) {
		return false
	}
	for id := range got {
		if _, ok := want[id]; !ok {
			return false
		}
	}
	return true
}

func matchesAny(text string, accepted []string) bool {
	submitted := normalizeText(text)
	if submitted == "" {
		return false
	}
	for _, a := range accepted {
		if normalizeText(a) == submitted {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateAnswer checks that ans has the shape q expects and only references
// options q actually has.
func ValidateAnswer(q Question, ans Answer) error {
	switch v := q.(type) {
	case MultipleChoice:
		return validateSelection(v.QuestionID, v.Options, ans, false)
	case TrueFalse:
		return validateSelection(v.QuestionID, v.Options, ans, true)
	case ShortAnswer:
		if len(ans.Selected) > 0 {
			return invalidAnswer(v.QuestionID, "short answer question does not take selected options")
		}
		return nil
	default:
		return invalidAnswer(q.ID(), fmt.Sprintf("unsupported question type %T", q))
	}
}

func validateSelection(questionID string, options []Option, ans Answer, single bool) error {
	if ans.Text != "" {
		return invalidAnswer(questionID, "choice question does not take free text")
	}
	if single && len(ans.Selected) > 1 {
		return invalidAnswer(questionID, "true/false question takes a single option")
	}
	known := make(map[string]struct{}, len(options))
	for _, o := range options {
		known[o.ID] = struct{}{}
	}
	for _, id := range ans.Selected {
		if _, ok := known[id]; !ok {
			return invalidAnswer(questionID, fmt.Sprintf("unknown option %q", id))
		}
	}
	return nil
}

func invalidAnswer(questionID, msg string) error {
	return shared.WrapError("exam", "ValidateAnswer", shared.ErrValidation,
		fmt.Sprintf("question %q: %s", questionID, msg), shared.ErrInvalidAnswer)
}
