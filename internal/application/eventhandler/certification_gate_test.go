package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/internal/application/command"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/progress"
	"github.com/coursehub/certification-hub/internal/domain/shared"
	"github.com/coursehub/certification-hub/internal/infrastructure/messaging"
	"github.com/coursehub/certification-hub/internal/infrastructure/persistence/memory"
	"github.com/coursehub/certification-hub/internal/infrastructure/security"
)

type stubRenderer struct {
	mu        sync.Mutex
	renders   int
	discarded int
	fail      bool
}

func (r *stubRenderer) Render(_ context.Context, userID, courseID string, score float64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return "", errors.New("renderer down")
	}
	r.renders++
	return fmt.Sprintf("https://docs.example/%s/%s/%v/%d", userID, courseID, score, r.renders), nil
}

func (r *stubRenderer) Discard(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded++
	return nil
}

func twoPointExam() *exam.Definition {
	return &exam.Definition{
		CourseID:     "go-201",
		PassingScore: 70,
		Questions: []exam.Question{
			exam.MultipleChoice{QuestionID: "q1", Value: 1, Options: []exam.Option{
				{ID: "a", Correct: true}, {ID: "b"},
			}},
			exam.ShortAnswer{QuestionID: "q2", Value: 1, Accepted: []string{"select"}},
		},
	}
}

type pipeline struct {
	catalog  *memory.Catalog
	progress *memory.ProgressStore
	attempts *memory.AttemptStore
	certs    *memory.CertificateStore
	renderer *stubRenderer
	bus      *messaging.InMemoryEventBus
	gate     *CertificationGate

	markUnit *command.MarkUnitCompleteHandler
	start    *command.StartAttemptHandler
	save     *command.SaveAnswerHandler
	submit   *command.SubmitAttemptHandler
}

// newPipeline wires the commands and the gate over in-memory stores and a
// synchronous bus. With subscribe false the gate only runs when called.
func newPipeline(t *testing.T, subscribe bool) *pipeline {
	t.Helper()

	p := &pipeline{
		catalog: memory.NewCatalog(
			memory.Course{ID: "go-101", Units: []string{"u1", "u2", "u3"}},
			memory.Course{ID: "go-201", Units: []string{"u1", "u2"}, Exam: twoPointExam()},
		),
		progress: memory.NewProgressStore(),
		attempts: memory.NewAttemptStore(),
		certs:    memory.NewCertificateStore(),
		renderer: &stubRenderer{},
		bus:      messaging.NewInMemoryEventBus(messaging.DefaultInMemoryEventBusConfig()),
	}
	t.Cleanup(func() { _ = p.bus.Close() })

	issuer := command.NewIssueCertificateHandler(p.certs, p.progress, p.renderer,
		security.NewVerificationCodes("gate-test"), p.bus, nil)
	p.gate = NewCertificationGate(p.catalog, p.progress, p.attempts, p.certs, issuer, DefaultGateConfig(), nil)
	if subscribe {
		require.NoError(t, p.gate.Register(p.bus))
	}

	p.markUnit = command.NewMarkUnitCompleteHandler(p.catalog, p.progress, p.bus, nil)
	p.start = command.NewStartAttemptHandler(p.catalog, nil, p.attempts, p.bus, nil)
	p.save = command.NewSaveAnswerHandler(p.attempts)
	p.submit = command.NewSubmitAttemptHandler(p.attempts, p.bus, nil)
	return p
}

func (p *pipeline) completeUnits(t *testing.T, userID, courseID string, units ...string) *command.MarkUnitCompleteResult {
	t.Helper()
	var res *command.MarkUnitCompleteResult
	for _, u := range units {
		var err error
		res, err = p.markUnit.Handle(context.Background(), command.MarkUnitCompleteCommand{UserID: userID, CourseID: courseID, UnitID: u})
		require.NoError(t, err)
	}
	return res
}

func (p *pipeline) takeExam(t *testing.T, userID string, answers map[string]exam.Answer) *exam.Attempt {
	t.Helper()
	ctx := context.Background()

	started, err := p.start.Handle(ctx, command.StartAttemptCommand{UserID: userID, CourseID: "go-201"})
	require.NoError(t, err)
	for qid, ans := range answers {
		_, err := p.save.Handle(ctx, command.SaveAnswerCommand{
			AttemptID: started.Attempt.ID, UserID: userID, QuestionID: qid, Answer: ans,
		})
		require.NoError(t, err)
	}
	graded, err := p.submit.Handle(ctx, command.SubmitAttemptCommand{AttemptID: started.Attempt.ID, UserID: userID})
	require.NoError(t, err)
	return graded
}

var (
	halfRight = map[string]exam.Answer{"q1": {Selected: []string{"a"}}, "q2": {Text: "insert"}}
	allRight  = map[string]exam.Answer{"q1": {Selected: []string{"a"}}, "q2": {Text: " SELECT "}}
)

// Course without exam: the certificate follows the last unit.
func TestScenario_NoExamCourseIssuesOnCompletion(t *testing.T) {
	p := newPipeline(t, true)
	ctx := context.Background()

	res := p.completeUnits(t, "alice", "go-101", "u1", "u2")
	assert.Equal(t, 66.67, res.Percentage)
	assert.False(t, res.ContentCompleted)
	_, err := p.certs.Get(ctx, "alice", "go-101")
	assert.ErrorIs(t, err, shared.ErrCertificateNotFound)

	res = p.completeUnits(t, "alice", "go-101", "u3")
	assert.Equal(t, 100.0, res.Percentage)
	assert.True(t, res.ContentCompleted)

	cert, err := p.certs.Get(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.Equal(t, 100.0, cert.ScorePercentage)

	rec, err := p.progress.Get(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.Equal(t, cert.DocumentRef, rec.CertificateRef)
}

// Course with exam: failing, then passing, then a late save.
func TestScenario_ExamCourse(t *testing.T) {
	p := newPipeline(t, true)
	ctx := context.Background()

	p.completeUnits(t, "alice", "go-201", "u1", "u2")
	_, err := p.certs.Get(ctx, "alice", "go-201")
	assert.ErrorIs(t, err, shared.ErrCertificateNotFound, "content alone must not certify an exam course")

	failed := p.takeExam(t, "alice", halfRight)
	assert.Equal(t, 1, failed.Score)
	assert.Equal(t, 2, failed.TotalPoints)
	assert.Equal(t, 50, failed.Percentage)
	assert.False(t, failed.Passed)
	assert.Equal(t, 0, p.certs.Count())

	passed := p.takeExam(t, "alice", allRight)
	assert.NotEqual(t, failed.ID, passed.ID)
	assert.Equal(t, 100, passed.Percentage)
	assert.True(t, passed.Passed)

	cert, err := p.certs.Get(ctx, "alice", "go-201")
	require.NoError(t, err)
	assert.Equal(t, 100.0, cert.ScorePercentage)
	assert.Equal(t, 1, p.certs.Count())

	rec, err := p.progress.Get(ctx, "alice", "go-201")
	require.NoError(t, err)
	assert.True(t, rec.ExamPassed)

	_, err = p.save.Handle(ctx, command.SaveAnswerCommand{
		AttemptID: passed.ID, UserID: "alice", QuestionID: "q1", Answer: exam.Answer{Selected: []string{"b"}},
	})
	assert.True(t, shared.IsInvalidState(err), "save after grading: %v", err)
}

func TestScenario_ConcurrentEvaluateIssuesOnce(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()

	p.completeUnits(t, "alice", "go-201", "u1", "u2")
	p.takeExam(t, "alice", allRight)
	require.Equal(t, 0, p.certs.Count())

	const callers = 8
	var wg sync.WaitGroup
	refs := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eval, err := p.gate.Evaluate(ctx, "alice", "go-201")
			if assert.NoError(t, err) && assert.True(t, eval.Eligible) {
				refs <- eval.Certificate.DocumentRef
			}
		}()
	}
	wg.Wait()
	close(refs)

	assert.Equal(t, 1, p.certs.Count())
	distinct := map[string]struct{}{}
	for ref := range refs {
		distinct[ref] = struct{}{}
	}
	assert.Len(t, distinct, 1, "every caller must see the winning document")
	assert.Equal(t, p.renderer.renders-1, p.renderer.discarded)
}

func TestEvaluate_Reasons(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()

	eval, err := p.gate.Evaluate(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.Equal(t, ReasonNoProgress, eval.Reason)

	p.completeUnits(t, "alice", "go-101", "u1")
	eval, err = p.gate.Evaluate(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.Equal(t, ReasonContentIncomplete, eval.Reason)
	assert.False(t, eval.Eligible)

	p.completeUnits(t, "alice", "go-201", "u1", "u2")
	eval, err = p.gate.Evaluate(ctx, "alice", "go-201")
	require.NoError(t, err)
	assert.Equal(t, ReasonExamNotPassed, eval.Reason)

	p.takeExam(t, "alice", allRight)
	eval, err = p.gate.Evaluate(ctx, "alice", "go-201")
	require.NoError(t, err)
	assert.Equal(t, ReasonIssued, eval.Reason)
	assert.True(t, eval.Issued)

	eval, err = p.gate.Evaluate(ctx, "alice", "go-201")
	require.NoError(t, err)
	assert.Equal(t, ReasonAlreadyIssued, eval.Reason)
	assert.False(t, eval.Issued)
	assert.Equal(t, 1, p.renderer.renders)
}

// Passing before finishing the content certifies on the last unit.
func TestGate_ExamPassedBeforeContent(t *testing.T) {
	p := newPipeline(t, true)
	ctx := context.Background()

	p.takeExam(t, "alice", allRight)

	status, err := p.progress.Get(ctx, "alice", "go-201")
	require.NoError(t, err)
	assert.True(t, status.ExamPassed)
	assert.Equal(t, 0, p.certs.Count())

	p.completeUnits(t, "alice", "go-201", "u1", "u2")
	assert.Equal(t, 1, p.certs.Count())
}

func TestGate_RenderFailureLeavesPairForRetry(t *testing.T) {
	p := newPipeline(t, false)
	ctx := context.Background()

	p.completeUnits(t, "alice", "go-101", "u1", "u2", "u3")

	p.renderer.fail = true
	_, err := p.gate.Evaluate(ctx, "alice", "go-101")
	require.Error(t, err)
	assert.True(t, shared.IsRenderFailure(err))
	assert.Equal(t, 0, p.certs.Count())

	awaiting, err := p.progress.ListAwaitingCertificate(ctx, progress.Key{}, 10)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)

	p.renderer.fail = false
	eval, err := p.gate.Evaluate(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.True(t, eval.Issued)

	awaiting, err = p.progress.ListAwaitingCertificate(ctx, progress.Key{}, 10)
	require.NoError(t, err)
	assert.Empty(t, awaiting)
}
