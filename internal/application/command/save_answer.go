package command

import (
	"context"
	"fmt"
	"time"

	"github.com/coursehub/certification-hub/internal/domain/exam"
)

// SaveAnswerCommand records a learner's answer to one question. Repeated
// saves for the same question overwrite the previous answer.
type SaveAnswerCommand struct {
	AttemptID  string `validate:"required"`
	UserID     string `validate:"required"`
	QuestionID string `validate:"required"`
	Answer     exam.Answer
}

// SaveAnswerHandler handles SaveAnswerCommand.
type SaveAnswerHandler struct {
	attemptRepo exam.AttemptRepository
	now         func() time.Time
}

// NewSaveAnswerHandler creates a new SaveAnswerHandler.
func NewSaveAnswerHandler(attemptRepo exam.AttemptRepository) *SaveAnswerHandler {
	return &SaveAnswerHandler{attemptRepo: attemptRepo, now: time.Now}
}

// Handle executes the command. Errors are checked in a fixed order: unknown
// attempt, foreign attempt, attempt already graded, unknown question, then
// answer shape.
func (h *SaveAnswerHandler) Handle(ctx context.Context, cmd SaveAnswerCommand) (*exam.Attempt, error) {
	if err := validateCommand("SaveAnswer", cmd); err != nil {
		return nil, err
	}

	attempt, err := h.attemptRepo.Update(ctx, cmd.AttemptID, func(a *exam.Attempt) error {
		if err := a.CheckOwner(cmd.UserID); err != nil {
			return err
		}
		return a.SaveAnswer(cmd.QuestionID, cmd.Answer, h.now().UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("save_answer: %w", err)
	}
	return attempt, nil
}
