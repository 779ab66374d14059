package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Description() string           { return "test job " + j.name }
func (j *funcJob) Run(ctx context.Context) error { return j.run(ctx) }

func TestScheduler_RegisterRejectsDuplicates(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &funcJob{name: "a", run: func(context.Context) error { return nil }}

	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Minute)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Minute)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Minute)), ErrNilJob)
	assert.ErrorIs(t, s.Register(&funcJob{name: "b"}, nil), ErrNilSchedule)
	assert.ErrorIs(t, s.SetEnabled("missing", false), ErrJobNotFound)
}

func TestScheduler_RunsOnStartWithoutOverlap(t *testing.T) {
	s := NewScheduler(SchedulerConfig{TickInterval: 5 * time.Millisecond, RunOnStart: true})

	var (
		runs       atomic.Int32
		concurrent atomic.Int32
		overlapped atomic.Bool
	)
	release := make(chan struct{})
	job := &funcJob{name: "slow", run: func(ctx context.Context) error {
		if concurrent.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer concurrent.Add(-1)
		runs.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load(), "a running job must not be started again")

	close(release)
	assert.Eventually(t, func() bool { return runs.Load() > 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.False(t, overlapped.Load())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
}

func TestScheduler_RunNowRecordsFailuresAndPanics(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	boom := errors.New("boom")

	require.NoError(t, s.Register(&funcJob{name: "fails", run: func(context.Context) error { return boom }}, NewIntervalSchedule(time.Hour)))
	require.NoError(t, s.Register(&funcJob{name: "panics", run: func(context.Context) error { panic("bad") }}, NewIntervalSchedule(time.Hour)))

	result, err := s.RunNow(context.Background(), "fails")
	assert.ErrorIs(t, err, boom)
	assert.False(t, result.Success)
	assert.True(t, result.Manual)

	_, err = s.RunNow(context.Background(), "panics")
	assert.ErrorIs(t, err, ErrJobPanicked)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs := s.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "fails", jobs[0].Name)
	assert.Equal(t, int64(1), jobs[0].FailCount)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalExecutions)
	assert.Equal(t, int64(2), snap.TotalFailures)
}

func TestScheduler_JobTimeout(t *testing.T) {
	s := NewScheduler(SchedulerConfig{JobTimeout: 10 * time.Millisecond})
	require.NoError(t, s.Register(&funcJob{name: "hangs", run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, NewIntervalSchedule(time.Hour)))

	_, err := s.RunNow(context.Background(), "hangs")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIntervalSchedule(t *testing.T) {
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	s := NewIntervalSchedule(15 * time.Minute)
	assert.Equal(t, base.Add(15*time.Minute), s.Next(base))
	assert.Equal(t, "@every 15m0s", s.String())

	jittered := NewIntervalSchedule(time.Minute).WithJitter(10 * time.Second)
	for i := 0; i < 20; i++ {
		next := jittered.Next(base)
		assert.False(t, next.Before(base.Add(time.Minute)))
		assert.True(t, next.Before(base.Add(70*time.Second)))
	}

	assert.Equal(t, time.Minute, NewIntervalSchedule(0).Interval)
}

func TestCronSchedule_Next(t *testing.T) {
	// 2024-06-01 is a Saturday.
	base := time.Date(2024, 6, 1, 0, 7, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2024, 6, 1, 0, 15, 0, 0, time.UTC)},
		{"0 2 * * *", time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC)},
		{"30 1 * * 1-5", time.Date(2024, 6, 3, 1, 30, 0, 0, time.UTC)},
		{"0 0 1,15 * *", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)},
		{"7 0 * * *", time.Date(2024, 6, 2, 0, 7, 0, 0, time.UTC)},
		{"5/20 * * * *", time.Date(2024, 6, 1, 0, 25, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr, nil)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(s.Next(base)), "got %s", s.Next(base))
		})
	}
}

func TestCronSchedule_Location(t *testing.T) {
	plus5 := time.FixedZone("UTC+5", 5*3600)
	s, err := ParseCron("0  9 * * *", plus5)
	require.NoError(t, err)
	assert.Equal(t, "0 9 * * *", s.String())

	next := s.Next(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, time.Date(2024, 6, 1, 4, 0, 0, 0, time.UTC).Equal(next))
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{
		"* * *",
		"60 * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"0 0 31 2 *",
	} {
		_, err := ParseCron(expr, nil)
		assert.Error(t, err, expr)
	}
}
