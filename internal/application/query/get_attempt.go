package query

import (
	"context"
	"fmt"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT VIEWS
// Learner-facing rendering of an attempt. Correctness data of the questions
// never leaves the service; per-question results appear once graded.
// ══════════════════════════════════════════════════════════════════════════════

// OptionDTO is a selectable option without its correctness flag.
type OptionDTO struct {
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

// QuestionDTO is a question as shown to the learner.
type QuestionDTO struct {
	ID      string      `json:"id"`
	Kind    exam.Kind   `json:"kind"`
	Prompt  string      `json:"prompt"`
	Points  int         `json:"points"`
	Options []OptionDTO `json:"options,omitempty"`
}

// AttemptDTO is the learner view of an attempt.
type AttemptDTO struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	CourseID     string                 `json:"course_id"`
	Status       exam.Status            `json:"status"`
	Questions    []QuestionDTO          `json:"questions,omitempty"`
	Answers      map[string]exam.Answer `json:"answers"`
	TotalPoints  int                    `json:"total_points"`
	PassingScore int                    `json:"passing_score"`

	TimeLimitSeconds int        `json:"time_limit_seconds,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`

	Score      *int                           `json:"score,omitempty"`
	Percentage *int                           `json:"percentage,omitempty"`
	Passed     *bool                          `json:"passed,omitempty"`
	Results    map[string]exam.QuestionResult `json:"results,omitempty"`

	StartedAt time.Time  `json:"started_at"`
	GradedAt  *time.Time `json:"graded_at,omitempty"`
}

// NewAttemptView builds the learner view of a.
func NewAttemptView(a *exam.Attempt) AttemptDTO {
	dto := AttemptDTO{
		ID:               a.ID,
		UserID:           a.UserID,
		CourseID:         a.CourseID,
		Status:           a.Status,
		Answers:          a.Answers,
		TotalPoints:      a.TotalPoints,
		PassingScore:     a.PassingScore,
		TimeLimitSeconds: int(a.TimeLimit / time.Second),
		StartedAt:        a.StartedAt,
		GradedAt:         a.GradedAt,
	}
	if dto.Answers == nil {
		dto.Answers = map[string]exam.Answer{}
	}
	if deadline, ok := a.Deadline(); ok {
		dto.Deadline = &deadline
	}
	if a.Definition != nil {
		dto.Questions = make([]QuestionDTO, 0, len(a.Definition.Questions))
		for _, q := range a.Definition.Questions {
			dto.Questions = append(dto.Questions, questionView(q))
		}
	}
	if a.IsGraded() {
		score, pct, passed := a.Score, a.Percentage, a.Passed
		dto.Score = &score
		dto.Percentage = &pct
		dto.Passed = &passed
		dto.Results = a.Results
	}
	return dto
}

func questionView(q exam.Question) QuestionDTO {
	dto := QuestionDTO{ID: q.ID(), Kind: q.Kind(), Points: q.Points()}
	switch v := q.(type) {
	case exam.MultipleChoice:
		dto.Prompt = v.Prompt
		dto.Options = optionViews(v.Options)
	case exam.TrueFalse:
		dto.Prompt = v.Prompt
		dto.Options = optionViews(v.Options)
	case exam.ShortAnswer:
		dto.Prompt = v.Prompt
	}
	return dto
}

func optionViews(options []exam.Option) []OptionDTO {
	out := make([]OptionDTO, len(options))
	for i, o := range options {
		out[i] = OptionDTO{ID: o.ID, Text: o.Text}
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// GET ATTEMPT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetAttemptQuery reads one attempt on behalf of UserID.
type GetAttemptQuery struct {
	AttemptID string
	UserID    string
}

// GetAttemptHandler handles GetAttemptQuery.
type GetAttemptHandler struct {
	attemptRepo exam.AttemptRepository
}

// NewGetAttemptHandler creates a new GetAttemptHandler.
func NewGetAttemptHandler(attemptRepo exam.AttemptRepository) *GetAttemptHandler {
	return &GetAttemptHandler{attemptRepo: attemptRepo}
}

// Handle fails with Forbidden when the attempt belongs to someone else.
func (h *GetAttemptHandler) Handle(ctx context.Context, q GetAttemptQuery) (*AttemptDTO, error) {
	if q.AttemptID == "" || q.UserID == "" {
		return nil, shared.NewDomainError("exam", "GetAttempt", shared.ErrValidation,
			"attempt_id and user_id are required")
	}

	a, err := h.attemptRepo.GetByID(ctx, q.AttemptID)
	if err != nil {
		return nil, fmt.Errorf("get_attempt: %w", err)
	}
	if err := a.CheckOwner(q.UserID); err != nil {
		return nil, err
	}

	dto := NewAttemptView(a)
	return &dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET ATTEMPT HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

// AttemptSummaryDTO is one graded attempt in the history.
type AttemptSummaryDTO struct {
	ID           string    `json:"id"`
	Score        int       `json:"score"`
	TotalPoints  int       `json:"total_points"`
	Percentage   int       `json:"percentage"`
	PassingScore int       `json:"passing_score"`
	Passed       bool      `json:"passed"`
	StartedAt    time.Time `json:"started_at"`
	GradedAt     time.Time `json:"graded_at"`
}

// AttemptHistoryDTO lists graded attempts, most recent first.
type AttemptHistoryDTO struct {
	UserID   string              `json:"user_id"`
	CourseID string              `json:"course_id"`
	Attempts []AttemptSummaryDTO `json:"attempts"`
	Passed   bool                `json:"passed"`
}

// GetAttemptHistoryHandler handles history reads.
type GetAttemptHistoryHandler struct {
	attemptRepo exam.AttemptRepository
}

// NewGetAttemptHistoryHandler creates a new GetAttemptHistoryHandler.
func NewGetAttemptHistoryHandler(attemptRepo exam.AttemptRepository) *GetAttemptHistoryHandler {
	return &GetAttemptHistoryHandler{attemptRepo: attemptRepo}
}

// Handle returns an empty history when the learner never submitted.
func (h *GetAttemptHistoryHandler) Handle(ctx context.Context, q GetProgressQuery) (*AttemptHistoryDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	attempts, err := h.attemptRepo.ListGraded(ctx, q.UserID, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_attempt_history: %w", err)
	}

	dto := &AttemptHistoryDTO{
		UserID:   q.UserID,
		CourseID: q.CourseID,
		Attempts: make([]AttemptSummaryDTO, 0, len(attempts)),
	}
	for _, a := range attempts {
		s := AttemptSummaryDTO{
			ID:           a.ID,
			Score:        a.Score,
			TotalPoints:  a.TotalPoints,
			Percentage:   a.Percentage,
			PassingScore: a.PassingScore,
			Passed:       a.Passed,
			StartedAt:    a.StartedAt,
		}
		if a.GradedAt != nil {
			s.GradedAt = *a.GradedAt
		}
		dto.Passed = dto.Passed || a.Passed
		dto.Attempts = append(dto.Attempts, s)
	}
	return dto, nil
}
