package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub/certification-hub/internal/domain/certificate"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
	"github.com/coursehub/certification-hub/internal/infrastructure/persistence/memory"
	"github.com/coursehub/certification-hub/internal/infrastructure/security"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(t shared.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.EventType() == t {
			n++
		}
	}
	return n
}

type fakeRenderer struct {
	mu        sync.Mutex
	renders   int
	discarded []string
	err       error
}

func (r *fakeRenderer) Render(_ context.Context, userID, courseID string, _ float64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.renders++
	return fmt.Sprintf("https://docs.example/%s/%s/%d", userID, courseID, r.renders), nil
}

func (r *fakeRenderer) Discard(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded = append(r.discarded, ref)
	return nil
}

func goExam() *exam.Definition {
	return &exam.Definition{
		CourseID:     "go-201",
		PassingScore: 70,
		Questions: []exam.Question{
			exam.MultipleChoice{QuestionID: "q1", Value: 2, Options: []exam.Option{
				{ID: "a", Correct: true}, {ID: "b", Correct: true}, {ID: "c"},
			}},
			exam.TrueFalse{QuestionID: "q2", Value: 1, Options: []exam.Option{
				{ID: "true", Correct: true}, {ID: "false"},
			}},
			exam.ShortAnswer{QuestionID: "q3", Value: 1, Accepted: []string{"goroutine"}},
		},
	}
}

func newCatalog() *memory.Catalog {
	cat := memory.NewCatalog(
		memory.Course{ID: "go-101", Units: []string{"u1", "u2", "u3"}},
		memory.Course{ID: "go-201", Units: []string{"u1"}, Exam: goExam()},
	)
	cat.Enroll("alice", "go-201")
	cat.Enroll("bob", "go-201")
	return cat
}

// ══════════════════════════════════════════════════════════════════════════════
// MARK UNIT COMPLETE
// ══════════════════════════════════════════════════════════════════════════════

func TestMarkUnitComplete_CompletesCourseOnce(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	h := NewMarkUnitCompleteHandler(newCatalog(), memory.NewProgressStore(), pub, nil)

	res, err := h.Handle(ctx, MarkUnitCompleteCommand{UserID: "alice", CourseID: "go-101", UnitID: "u1"})
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.False(t, res.ContentCompleted)

	res, err = h.Handle(ctx, MarkUnitCompleteCommand{UserID: "alice", CourseID: "go-101", UnitID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.CompletedUnits)
	assert.Equal(t, 66.67, res.Percentage)

	res, err = h.Handle(ctx, MarkUnitCompleteCommand{UserID: "alice", CourseID: "go-101", UnitID: "u3"})
	require.NoError(t, err)
	assert.True(t, res.ContentCompleted)
	assert.True(t, res.JustCompleted)
	assert.Equal(t, 100.0, res.Percentage)

	// Re-marking is a no-op.
	res, err = h.Handle(ctx, MarkUnitCompleteCommand{UserID: "alice", CourseID: "go-101", UnitID: "u3"})
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.False(t, res.JustCompleted)
	assert.True(t, res.ContentCompleted)

	assert.Equal(t, 3, pub.count(shared.EventUnitCompleted))
	assert.Equal(t, 1, pub.count(shared.EventContentCompleted))
}

func TestMarkUnitComplete_Errors(t *testing.T) {
	h := NewMarkUnitCompleteHandler(newCatalog(), memory.NewProgressStore(), &recordingPublisher{}, nil)

	tests := []struct {
		name  string
		cmd   MarkUnitCompleteCommand
		check func(error) bool
	}{
		{"unit outside course", MarkUnitCompleteCommand{UserID: "alice", CourseID: "go-101", UnitID: "u9"}, shared.IsNotFound},
		{"unknown course", MarkUnitCompleteCommand{UserID: "alice", CourseID: "rust-101", UnitID: "u1"}, shared.IsNotFound},
		{"missing user", MarkUnitCompleteCommand{CourseID: "go-101", UnitID: "u1"}, shared.IsValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Handle(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestMarkUnitComplete_ConcurrentLastUnitsPublishOnce(t *testing.T) {
	pub := &recordingPublisher{}
	h := NewMarkUnitCompleteHandler(newCatalog(), memory.NewProgressStore(), pub, nil)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		flipped int
	)
	for i := 0; i < 10; i++ {
		for _, unit := range []string{"u1", "u2", "u3"} {
			wg.Add(1)
			go func(unit string) {
				defer wg.Done()
				res, err := h.Handle(context.Background(), MarkUnitCompleteCommand{UserID: "alice", CourseID: "go-101", UnitID: unit})
				if !assert.NoError(t, err) {
					return
				}
				if res.JustCompleted {
					mu.Lock()
					flipped++
					mu.Unlock()
				}
			}(unit)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, flipped)
	assert.Equal(t, 1, pub.count(shared.EventContentCompleted))
	assert.Equal(t, 3, pub.count(shared.EventUnitCompleted))
}

// ══════════════════════════════════════════════════════════════════════════════
// EXAM FLOW
// ══════════════════════════════════════════════════════════════════════════════

type examHandlers struct {
	catalog  *memory.Catalog
	attempts *memory.AttemptStore
	pub      *recordingPublisher
	start    *StartAttemptHandler
	save     *SaveAnswerHandler
	submit   *SubmitAttemptHandler
}

func newExamHandlers() *examHandlers {
	cat := newCatalog()
	attempts := memory.NewAttemptStore()
	pub := &recordingPublisher{}
	return &examHandlers{
		catalog:  cat,
		attempts: attempts,
		pub:      pub,
		start:    NewStartAttemptHandler(cat, cat, attempts, pub, nil),
		save:     NewSaveAnswerHandler(attempts),
		submit:   NewSubmitAttemptHandler(attempts, pub, nil),
	}
}

func TestStartAttempt_IsIdempotent(t *testing.T) {
	h := newExamHandlers()
	ctx := context.Background()

	first, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-201"})
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 4, first.Attempt.TotalPoints)
	assert.Equal(t, 70, first.Attempt.PassingScore)

	second, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-201"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Attempt.ID, second.Attempt.ID)

	assert.Equal(t, 1, h.pub.count(shared.EventAttemptStarted))
}

func TestStartAttempt_Errors(t *testing.T) {
	h := newExamHandlers()
	ctx := context.Background()

	_, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-101"})
	assert.True(t, shared.IsNotFound(err), "course without exam: %v", err)

	_, err = h.start.Handle(ctx, StartAttemptCommand{UserID: "mallory", CourseID: "go-201"})
	assert.True(t, shared.IsNotEligible(err), "not enrolled: %v", err)
	assert.ErrorIs(t, err, shared.ErrNotEnrolled)

	// Without an enrollment checker anyone may start.
	open := NewStartAttemptHandler(h.catalog, nil, h.attempts, h.pub, nil)
	_, err = open.Handle(ctx, StartAttemptCommand{UserID: "mallory", CourseID: "go-201"})
	assert.NoError(t, err)
}

func TestSaveAnswer_ErrorOrder(t *testing.T) {
	h := newExamHandlers()
	ctx := context.Background()

	started, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-201"})
	require.NoError(t, err)
	id := started.Attempt.ID

	_, err = h.save.Handle(ctx, SaveAnswerCommand{AttemptID: "missing", UserID: "alice", QuestionID: "q1"})
	assert.ErrorIs(t, err, shared.ErrAttemptNotFound)

	// Ownership is checked before the question exists.
	_, err = h.save.Handle(ctx, SaveAnswerCommand{AttemptID: id, UserID: "bob", QuestionID: "nope"})
	assert.True(t, shared.IsForbidden(err), "got %v", err)

	_, err = h.save.Handle(ctx, SaveAnswerCommand{AttemptID: id, UserID: "alice", QuestionID: "nope"})
	assert.ErrorIs(t, err, shared.ErrQuestionNotFound)

	_, err = h.save.Handle(ctx, SaveAnswerCommand{
		AttemptID: id, UserID: "alice", QuestionID: "q1",
		Answer: exam.Answer{Selected: []string{"z"}},
	})
	assert.True(t, shared.IsValidation(err), "got %v", err)

	_, err = h.submit.Handle(ctx, SubmitAttemptCommand{AttemptID: id, UserID: "alice"})
	require.NoError(t, err)

	// Graded is checked before the question.
	_, err = h.save.Handle(ctx, SaveAnswerCommand{AttemptID: id, UserID: "alice", QuestionID: "nope"})
	assert.True(t, shared.IsInvalidState(err), "got %v", err)
}

func TestSubmitAttempt_GradesAndPublishes(t *testing.T) {
	h := newExamHandlers()
	ctx := context.Background()

	started, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-201"})
	require.NoError(t, err)
	id := started.Attempt.ID

	answers := map[string]exam.Answer{
		"q1": {Selected: []string{"b", "a"}},
		"q2": {Selected: []string{"false"}},
		"q3": {Text: "  Goroutine "},
	}
	for qid, ans := range answers {
		_, err := h.save.Handle(ctx, SaveAnswerCommand{AttemptID: id, UserID: "alice", QuestionID: qid, Answer: ans})
		require.NoError(t, err)
	}

	graded, err := h.submit.Handle(ctx, SubmitAttemptCommand{AttemptID: id, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, exam.StatusGraded, graded.Status)
	assert.Equal(t, 3, graded.Score)
	assert.Equal(t, 75, graded.Percentage)
	assert.True(t, graded.Passed)
	assert.False(t, graded.Results["q2"].Correct)

	assert.Equal(t, 1, h.pub.count(shared.EventAttemptGraded))
	assert.Equal(t, 1, h.pub.count(shared.EventExamPassed))

	_, err = h.submit.Handle(ctx, SubmitAttemptCommand{AttemptID: id, UserID: "alice"})
	assert.True(t, shared.IsInvalidState(err), "second submit: %v", err)
	assert.Equal(t, 1, h.pub.count(shared.EventAttemptGraded))
}

func TestSubmitAttempt_FailingAttemptDoesNotPublishPass(t *testing.T) {
	h := newExamHandlers()
	ctx := context.Background()

	started, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-201"})
	require.NoError(t, err)

	_, err = h.submit.Handle(ctx, SubmitAttemptCommand{AttemptID: started.Attempt.ID, UserID: "bob"})
	assert.True(t, shared.IsForbidden(err), "foreign submit: %v", err)

	graded, err := h.submit.Handle(ctx, SubmitAttemptCommand{AttemptID: started.Attempt.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 0, graded.Score)
	assert.False(t, graded.Passed)

	assert.Equal(t, 1, h.pub.count(shared.EventAttemptGraded))
	assert.Equal(t, 0, h.pub.count(shared.EventExamPassed))
}

func TestSubmitAttempt_UsesSnapshotFromStart(t *testing.T) {
	h := newExamHandlers()
	ctx := context.Background()

	started, err := h.start.Handle(ctx, StartAttemptCommand{UserID: "alice", CourseID: "go-201"})
	require.NoError(t, err)

	// The catalog raises the bar and adds a question after the attempt began.
	harder := goExam()
	harder.PassingScore = 100
	harder.Questions = append(harder.Questions, exam.ShortAnswer{QuestionID: "q4", Value: 10, Accepted: []string{"chan"}})
	h.catalog.Put(memory.Course{ID: "go-201", Units: []string{"u1"}, Exam: harder})

	_, err = h.save.Handle(ctx, SaveAnswerCommand{
		AttemptID: started.Attempt.ID, UserID: "alice", QuestionID: "q4", Answer: exam.Answer{Text: "chan"},
	})
	assert.ErrorIs(t, err, shared.ErrQuestionNotFound)

	for qid, ans := range map[string]exam.Answer{
		"q1": {Selected: []string{"a", "b"}},
		"q2": {Selected: []string{"true"}},
	} {
		_, err := h.save.Handle(ctx, SaveAnswerCommand{AttemptID: started.Attempt.ID, UserID: "alice", QuestionID: qid, Answer: ans})
		require.NoError(t, err)
	}

	graded, err := h.submit.Handle(ctx, SubmitAttemptCommand{AttemptID: started.Attempt.ID, UserID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 4, graded.TotalPoints)
	assert.Equal(t, 75, graded.Percentage)
	assert.True(t, graded.Passed)
}

// ══════════════════════════════════════════════════════════════════════════════
// ISSUE CERTIFICATE
// ══════════════════════════════════════════════════════════════════════════════

type issuerFixture struct {
	certs    *memory.CertificateStore
	progress *memory.ProgressStore
	renderer *fakeRenderer
	pub      *recordingPublisher
	handler  *IssueCertificateHandler
}

func newIssuerFixture() *issuerFixture {
	f := &issuerFixture{
		certs:    memory.NewCertificateStore(),
		progress: memory.NewProgressStore(),
		renderer: &fakeRenderer{},
		pub:      &recordingPublisher{},
	}
	f.handler = NewIssueCertificateHandler(f.certs, f.progress, f.renderer,
		security.NewVerificationCodes("test-secret"), f.pub, nil)
	f.handler.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func TestIssueCertificate_IssuesAndRecordsReference(t *testing.T) {
	f := newIssuerFixture()
	ctx := context.Background()

	_, _, err := f.progress.AddUnit(ctx, "alice", "go-101", "u1")
	require.NoError(t, err)

	res, err := f.handler.Handle(ctx, IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 100})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, 100.0, res.Certificate.ScorePercentage)
	assert.NotEmpty(t, res.Certificate.VerificationCode)
	assert.NotEmpty(t, res.Certificate.ID)

	rec, err := f.progress.Get(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.Equal(t, res.Certificate.DocumentRef, rec.CertificateRef)
	assert.Equal(t, 1, f.pub.count(shared.EventCertificateIssued))
}

func TestIssueCertificate_SecondIssueReturnsExisting(t *testing.T) {
	f := newIssuerFixture()
	ctx := context.Background()

	first, err := f.handler.Handle(ctx, IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 100})
	require.NoError(t, err)

	second, err := f.handler.Handle(ctx, IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 100})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Certificate.ID, second.Certificate.ID)

	assert.Equal(t, 1, f.certs.Count())
	assert.Len(t, f.renderer.discarded, 1)
	assert.Equal(t, 1, f.pub.count(shared.EventCertificateIssued))
}

func TestIssueCertificate_RenderFailurePersistsNothing(t *testing.T) {
	f := newIssuerFixture()
	f.renderer.err = errors.New("renderer unavailable")

	_, err := f.handler.Handle(context.Background(), IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 100})
	require.Error(t, err)
	assert.True(t, shared.IsRenderFailure(err), "got %v", err)
	assert.ErrorIs(t, err, shared.ErrRenderFailed)
	assert.ErrorContains(t, err, "renderer unavailable")
	assert.Equal(t, 0, f.certs.Count())
	assert.Equal(t, 0, f.pub.count(shared.EventCertificateIssued))
}

func TestIssueCertificate_RejectsScoreOutOfRange(t *testing.T) {
	f := newIssuerFixture()

	_, err := f.handler.Handle(context.Background(), IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 120})
	assert.True(t, shared.IsValidation(err), "got %v", err)
	assert.Equal(t, 0, f.renderer.renders)
}

func TestIssueCertificate_ConcurrentIssuesStoreOne(t *testing.T) {
	f := newIssuerFixture()

	const callers = 10
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.handler.Handle(context.Background(), IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 100})
			if assert.NoError(t, err) {
				ids <- res.Certificate.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, f.certs.Count())
	assert.Len(t, f.renderer.discarded, callers-1)
	assert.Equal(t, 1, f.pub.count(shared.EventCertificateIssued))
}

// lossyCertificates stores the row but reports a storage failure, like a
// commit whose acknowledgement was lost.
type lossyCertificates struct {
	*memory.CertificateStore
	persist bool
}

func (c *lossyCertificates) Insert(ctx context.Context, cert *certificate.Certificate) (*certificate.Certificate, bool, error) {
	if c.persist {
		if _, _, err := c.CertificateStore.Insert(ctx, cert); err != nil {
			return nil, false, err
		}
	}
	return nil, false, shared.WrapError("certificate", "Insert", shared.ErrStorageFailure,
		"connection reset", errors.New("read: connection reset by peer"))
}

func TestIssueCertificate_InsertErrorWithStoredRowKeepsDocument(t *testing.T) {
	f := newIssuerFixture()
	certs := &lossyCertificates{CertificateStore: f.certs, persist: true}
	f.handler = NewIssueCertificateHandler(certs, f.progress, f.renderer,
		security.NewVerificationCodes("test-secret"), f.pub, nil)
	ctx := context.Background()

	res, err := f.handler.Handle(ctx, IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 90})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Empty(t, f.renderer.discarded)

	stored, err := f.certs.Get(ctx, "alice", "go-101")
	require.NoError(t, err)
	assert.Equal(t, stored.DocumentRef, res.Certificate.DocumentRef)
	assert.Equal(t, 1, f.pub.count(shared.EventCertificateIssued))
}

func TestIssueCertificate_InsertErrorWithoutRowDiscardsDocument(t *testing.T) {
	f := newIssuerFixture()
	certs := &lossyCertificates{CertificateStore: f.certs}
	f.handler = NewIssueCertificateHandler(certs, f.progress, f.renderer,
		security.NewVerificationCodes("test-secret"), f.pub, nil)

	_, err := f.handler.Handle(context.Background(), IssueCertificateCommand{UserID: "alice", CourseID: "go-101", ScorePercentage: 90})
	require.Error(t, err)
	assert.True(t, shared.IsStorageFailure(err), "got %v", err)
	assert.Len(t, f.renderer.discarded, 1)
	assert.Equal(t, 0, f.certs.Count())
	assert.Equal(t, 0, f.pub.count(shared.EventCertificateIssued))
}
