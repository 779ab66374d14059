package exam

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUESTION KIND REGISTRY
// ══════════════════════════════════════════════════════════════════════════════

// questionDocument is the stored shape of a question. Which fields are
// meaningful depends on Type.
type questionDocument struct {
	ID       string   `json:"id"`
	Type     Kind     `json:"type"`
	Prompt   string   `json:"prompt,omitempty"`
	Points   int      `json:"points"`
	Options  []Option `json:"options,omitempty"`
	Accepted []string `json:"accepted,omitempty"`
}

type definitionDocument struct {
	CourseID         string             `json:"course_id"`
	PassingScore     int                `json:"passing_score"`
	TimeLimitSeconds int64              `json:"time_limit_seconds,omitempty"`
	Questions        []questionDocument `json:"questions"`
}

type questionDecoder func(doc questionDocument) Question

// decoders is the complete set of known question kinds. It is fixed at
// package initialization and never extended at runtime.
var decoders = map[Kind]questionDecoder{
	KindMultipleChoice: func(doc questionDocument) Question {
		return MultipleChoice{QuestionID: doc.ID, Prompt: doc.Prompt, Value: doc.Points, Options: doc.Options}
	},
	KindTrueFalse: func(doc questionDocument) Question {
		return TrueFalse{QuestionID: doc.ID, Prompt: doc.Prompt, Value: doc.Points, Options: doc.Options}
	},
	KindShortAnswer: func(doc questionDocument) Question {
		return ShortAnswer{QuestionID: doc.ID, Prompt: doc.Prompt, Value: doc.Points, Accepted: doc.Accepted}
	},
}

// KnownKinds lists the registered question kinds.
func KnownKinds() []Kind {
	return []Kind{KindMultipleChoice, KindTrueFalse, KindShortAnswer}
}

// decodeQuestion builds the variant registered for doc.Type.
func decodeQuestion(doc questionDocument) (Question, error) {
	decode, ok := decoders[doc.Type]
	if !ok {
		return nil, shared.WrapError("exam", "DecodeQuestion", shared.ErrValidation,
			fmt.Sprintf("question %q has kind %q", doc.ID, doc.Type), shared.ErrUnknownQuestionKind)
	}
	return decode(doc), nil
}

func encodeQuestion(q Question) (questionDocument, error) {
	switch v := q.(type) {
	case MultipleChoice:
		return questionDocument{ID: v.QuestionID, Type: KindMultipleChoice, Prompt: v.Prompt, Points: v.Value, Options: v.Options}, nil
	case TrueFalse:
		return questionDocument{ID: v.QuestionID, Type: KindTrueFalse, Prompt: v.Prompt, Points: v.Value, Options: v.Options}, nil
	case ShortAnswer:
		return questionDocument{ID: v.QuestionID, Type: KindShortAnswer, Prompt: v.Prompt, Points: v.Value, Accepted: v.Accepted}, nil
	default:
		return questionDocument{}, shared.WrapError("exam", "EncodeQuestion", shared.ErrValidation,
			fmt.Sprintf("unsupported question type %T", q), shared.ErrUnknownQuestionKind)
	}
}

// MarshalDefinition encodes a definition into its stored JSON form.
func MarshalDefinition(d *Definition) ([]byte, error) {
	doc := definitionDocument{
		CourseID:         d.CourseID,
		PassingScore:     d.PassingScore,
		TimeLimitSeconds: int64(d.TimeLimit / time.Second),
		Questions:        make([]questionDocument, 0, len(d.Questions)),
	}
	for _, q := range d.Questions {
		qd, err := encodeQuestion(q)
		if err != nil {
			return nil, err
		}
		doc.Questions = append(doc.Questions, qd)
	}
	return json.Marshal(doc)
}

// UnmarshalDefinition decodes and validates a stored definition.
func UnmarshalDefinition(data []byte) (*Definition, error) {
	var doc definitionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, shared.WrapError("exam", "UnmarshalDefinition", shared.ErrValidation, "malformed exam definition", err)
	}

	d := &Definition{
		CourseID:     doc.CourseID,
		PassingScore: doc.PassingScore,
		TimeLimit:    time.Duration(doc.TimeLimitSeconds) * time.Second,
		Questions:    make([]Question, 0, len(doc.Questions)),
	}
	for _, qd := range doc.Questions {
		q, err := decodeQuestion(qd)
		if err != nil {
			return nil, err
		}
		d.Questions = append(d.Questions, q)
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
