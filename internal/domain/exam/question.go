// Package exam contains the exam definition model, the grading algorithm and
// the attempt state machine. It has no external dependencies.
package exam

import (
	"fmt"
	"strings"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION KINDS
// ══════════════════════════════════════════════════════════════════════════════

// Kind is the wire tag of a question variant.
type Kind string

const (
	KindMultipleChoice Kind = "multipleChoice"
	KindTrueFalse      Kind = "trueFalse"
	KindShortAnswer    Kind = "shortAnswer"
)

// Question is a closed sum type over MultipleChoice, TrueFalse and ShortAnswer.
// The unexported marker keeps other packages from adding variants, so a type
// switch over the three concrete types is exhaustive.
type Question interface {
	ID() string
	Kind() Kind
	Points() int
	question()
}

// Option is a selectable answer of a choice question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text,omitempty"`
	Correct bool   `json:"correct"`
}

// MultipleChoice is graded by exact set equality of selected option ids.
type MultipleChoice struct {
	QuestionID string
	Prompt     string
	Value      int
	Options    []Option
}

func (q MultipleChoice) ID() string  { return q.QuestionID }
func (q MultipleChoice) Kind() Kind  { return KindMultipleChoice }
func (q MultipleChoice) Points() int { return q.Value }
func (MultipleChoice) question()     {}

// TrueFalse carries two options, exactly one of them correct.
type TrueFalse struct {
	QuestionID string
	Prompt     string
	Value      int
	Options    []Option
}

func (q TrueFalse) ID() string  { return q.QuestionID }
func (q TrueFalse) Kind() Kind  { return KindTrueFalse }
func (q TrueFalse) Points() int { return q.Value }
func (TrueFalse) question()     {}

// ShortAnswer accepts free text matched against a set of acceptable answers.
type ShortAnswer struct {
	QuestionID string
	Prompt     string
	Value      int
	Accepted   []string
}

func (q ShortAnswer) ID() string  { return q.QuestionID }
func (q ShortAnswer) Kind() Kind  { return KindShortAnswer }
func (q ShortAnswer) Points() int { return q.Value }
func (ShortAnswer) question()     {}

// ══════════════════════════════════════════════════════════════════════════════
// DEFINITION
// ══════════════════════════════════════════════════════════════════════════════

// Definition is the catalog-owned exam of a course.
type Definition struct {
	CourseID     string
	Questions    []Question
	PassingScore int // percentage, 0..100
	TimeLimit    time.Duration
}

// TotalPoints sums the point values of all questions.
func (d *Definition) TotalPoints() int {
	total := 0
	for _, q := range d.Questions {
		total += q.Points()
	}
	return total
}

// Question looks up a question by id.
func (d *Definition) Question(id string) (Question, bool) {
	for _, q := range d.Questions {
		if q.ID() == id {
			return q, true
		}
	}
	return nil, false
}

// Validate checks the structural rules every definition must satisfy before
// an attempt can be graded against it.
func (d *Definition) Validate() error {
	if d == nil {
		return invalidDefinition("definition is nil")
	}
	if len(d.Questions) == 0 {
		return invalidDefinition("exam has no questions")
	}
	if d.PassingScore < 0 || d.PassingScore > 100 {
		return invalidDefinition(fmt.Sprintf("passing score %d out of range 0..100", d.PassingScore))
	}
	if d.TimeLimit < 0 {
		return invalidDefinition("time limit cannot be negative")
	}

	seen := make(map[string]struct{}, len(d.Questions))
	for i, q := range d.Questions {
		if q == nil {
			return invalidDefinition(fmt.Sprintf("question %d is nil", i))
		}
		if strings.TrimSpace(q.ID()) == "" {
			return invalidDefinition(fmt.Sprintf("question %d has no id", i))
		}
		if _, dup := seen[q.ID()]; dup {
			return invalidDefinition(fmt.Sprintf("duplicate question id %q", q.ID()))
		}
		seen[q.ID()] = struct{}{}
		if q.Points() < 0 {
			return invalidDefinition(fmt.Sprintf("question %q has negative points", q.ID()))
		}
		if err := validateQuestion(q); err != nil {
			return err
		}
	}

	if d.TotalPoints() <= 0 {
		return invalidDefinition("exam is worth zero points")
	}
	return nil
}

func validateQuestion(q Question) error {
	switch v := q.(type) {
	case MultipleChoice:
		return validateOptions(v.QuestionID, v.Options, 1)
	case TrueFalse:
		if len(v.Options) != 2 {
			return invalidDefinition(fmt.Sprintf("question %q must have exactly two options", v.QuestionID))
		}
		if err := validateOptions(v.QuestionID, v.Options, 1); err != nil {
			return err
		}
		if countCorrect(v.Options) != 1 {
			return invalidDefinition(fmt.Sprintf("question %q must have exactly one correct option", v.QuestionID))
		}
		return nil
	case ShortAnswer:
		if len(v.Accepted) == 0 {
			return invalidDefinition(fmt.Sprintf("question %q has no acceptable answers", v.QuestionID))
		}
		for _, a := range v.Accepted {
			if normalizeText(a) == "" {
				return invalidDefinition(fmt.Sprintf("question %q has a blank acceptable answer", v.QuestionID))
			}
		}
		return nil
	default:
		return invalidDefinition(fmt.Sprintf("unsupported question type %T", q))
	}
}

func validateOptions(questionID string, options []Option, minCorrect int) error {
	if len(options) == 0 {
		return invalidDefinition(fmt.Sprintf("question %q has no options", questionID))
	}
	seen := make(map[string]struct{}, len(options))
	for _, o := range options {
		if strings.TrimSpace(o.ID) == "" {
			return invalidDefinition(fmt.Sprintf("question %q has an option without id", questionID))
		}
		if _, dup := seen[o.ID]; dup {
			return invalidDefinition(fmt.Sprintf("question %q has duplicate option %q", questionID, o.ID))
		}
		seen[o.ID] = struct{}{}
	}
	if countCorrect(options) < minCorrect {
		return invalidDefinition(fmt.Sprintf("question %q has no correct option", questionID))
	}
	return nil
}

func countCorrect(options []Option) int {
	n := 0
	for _, o := range options {
		if o.Correct {
			n++
		}
	}
	return n
}

func invalidDefinition(msg string) error {
	return shared.WrapError("exam", "ValidateDefinition", shared.ErrValidation, msg, shared.ErrInvalidDefinition)
}
