package exam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/internal/domain/shared"
)

func twoQuestionExam() *Definition {
	return &Definition{
		CourseID:     "course-1",
		PassingScore: 70,
		Questions: []Question{
			MultipleChoice{QuestionID: "q1", Value: 1, Options: []Option{{ID: "a", Correct: true}, {ID: "b"}}},
			ShortAnswer{QuestionID: "q2", Value: 1, Accepted: []string{"channel"}},
		},
	}
}

func TestNewAttemptSnapshotsDefinition(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	def := twoQuestionExam()
	def.TimeLimit = 30 * time.Minute

	a := NewAttempt("att-1", "user-1", "course-1", def, now)

	assert.Equal(t, StatusInProgress, a.Status)
	assert.Equal(t, 2, a.TotalPoints)
	assert.Equal(t, 70, a.PassingScore)

	deadline, ok := a.Deadline()
	require.True(t, ok)
	assert.Equal(t, now.Add(30*time.Minute), deadline)

	// Catalog edits after start must not affect the snapshot.
	def.PassingScore = 10
	assert.Equal(t, 70, a.PassingScore)
}

func TestAttemptSubmit_FailingThenPassing(t *testing.T) {
	now := time.Now()

	failed := NewAttempt("att-1", "user-1", "course-1", twoQuestionExam(), now)
	require.NoError(t, failed.SaveAnswer("q1", Answer{Selected: []string{"a"}}, now))
	require.NoError(t, failed.SaveAnswer("q2", Answer{Text: "mutex"}, now))
	require.NoError(t, failed.Submit(now))

	assert.Equal(t, StatusGraded, failed.Status)
	assert.Equal(t, 1, failed.Score)
	assert.Equal(t, 50, failed.Percentage)
	assert.False(t, failed.Passed)
	require.NotNil(t, failed.GradedAt)

	passed := NewAttempt("att-2", "user-1", "course-1", twoQuestionExam(), now)
	require.NoError(t, passed.SaveAnswer("q1", Answer{Selected: []string{"a"}}, now))
	require.NoError(t, passed.SaveAnswer("q2", Answer{Text: " Channel "}, now))
	require.NoError(t, passed.Submit(now))

	assert.Equal(t, 2, passed.Score)
	assert.Equal(t, 100, passed.Percentage)
	assert.True(t, passed.Passed)
}

func TestAttemptSaveAnswerOverwrites(t *testing.T) {
	a := NewAttempt("att-1", "user-1", "course-1", twoQuestionExam(), time.Now())

	require.NoError(t, a.SaveAnswer("q1", Answer{Selected: []string{"b"}}, time.Now()))
	require.NoError(t, a.SaveAnswer("q1", Answer{Selected: []string{"a"}}, time.Now()))

	assert.Len(t, a.Answers, 1)
	assert.Equal(t, []string{"a"}, a.Answers["q1"].Selected)
}

func TestAttemptGradedIsTerminal(t *testing.T) {
	a := NewAttempt("att-1", "user-1", "course-1", twoQuestionExam(), time.Now())
	require.NoError(t, a.Submit(time.Now()))

	err := a.SaveAnswer("q1", Answer{Selected: []string{"a"}}, time.Now())
	assert.True(t, shared.IsInvalidState(err))

	err = a.Submit(time.Now())
	assert.True(t, shared.IsInvalidState(err))
}

func TestAttemptSaveAnswerErrors(t *testing.T) {
	a := NewAttempt("att-1", "user-1", "course-1", twoQuestionExam(), time.Now())

	err := a.SaveAnswer("missing", Answer{Text: "x"}, time.Now())
	assert.True(t, shared.IsNotFound(err))

	err = a.SaveAnswer("q1", Answer{Selected: []string{"zzz"}}, time.Now())
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, a.Answers)

	assert.True(t, shared.IsForbidden(a.CheckOwner("someone-else")))
	assert.NoError(t, a.CheckOwner("user-1"))
}

func TestAttemptCloneIsIndependent(t *testing.T) {
	a := NewAttempt("att-1", "user-1", "course-1", twoQuestionExam(), time.Now())
	require.NoError(t, a.SaveAnswer("q1", Answer{Selected: []string{"a"}}, time.Now()))

	c := a.Clone()
	require.NoError(t, c.SaveAnswer("q2", Answer{Text: "x"}, time.Now()))
	c.Answers["q1"].Selected[0] = "b"

	assert.Len(t, a.Answers, 1)
	assert.Equal(t, "a", a.Answers["q1"].Selected[0])
}
