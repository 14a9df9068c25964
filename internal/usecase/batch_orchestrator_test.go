package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/patentscope-crawler/internal/entity"
)

func echoRunner() ItemRunnerFunc {
	return func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
		return "ok:" + name, nil
	}
}

func TestBatchOrchestrator_Create(t *testing.T) {
	o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{MaxConcurrent: 2}, zap.NewNop())

	id, err := o.Create([]string{"WO1", " WO2 ", "WO1", ""}, entity.BatchParams{CountryFilter: "US", Limit: 5})
	require.NoError(t, err)
	assert.Regexp(t, `^batch_[0-9a-f]{12}_\d+$`, id)

	snap, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, entity.StatusPending, snap.Status)
	assert.Equal(t, []string{"WO1", "WO2"}, snap.Items)
	assert.Equal(t, 2, snap.TotalItems)
	assert.Equal(t, entity.BatchParams{CountryFilter: "US", Limit: 5}, snap.Params)
	assert.Nil(t, snap.StartedAt)
	for _, item := range snap.Jobs {
		assert.Equal(t, entity.StatusPending, item.Status)
	}

	other, err := o.Create([]string{"WO1"}, entity.BatchParams{})
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	_, err = o.Create([]string{" ", ""}, entity.BatchParams{})
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestBatchOrchestrator_Process_PartialFailure(t *testing.T) {
	var active, peak atomic.Int32
	runner := ItemRunnerFunc(func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if name == "WO2" {
			return nil, errors.New("no essential data extracted")
		}
		if name == "WO4" {
			panic("scraper crashed")
		}
		return map[string]string{"key": name}, nil
	})
	o := NewBatchOrchestrator(runner, OrchestratorConfig{MaxConcurrent: 2}, zap.NewNop())

	id, err := o.Create([]string{"WO1", "WO2", "WO3", "WO4", "WO5"}, entity.BatchParams{})
	require.NoError(t, err)
	require.NoError(t, o.Process(context.Background(), id))

	assert.LessOrEqual(t, int(peak.Load()), 2)

	snap, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, entity.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.CompletedCount)
	assert.Equal(t, 2, snap.FailedCount)
	assert.InDelta(t, 100.0, snap.ProgressPercentage, 0.001)
	assert.Zero(t, snap.ETASeconds)
	require.NotNil(t, snap.StartedAt)
	require.NotNil(t, snap.CompletedAt)
	assert.Equal(t, entity.StatusFailed, snap.Jobs["WO4"].Status)
	assert.Contains(t, snap.Jobs["WO4"].Error, "scraper crashed")
	assert.NotNil(t, snap.Jobs["WO1"].CompletedAt)

	res, ok := o.Results(id)
	require.True(t, ok)
	assert.Len(t, res.Results, 3)
	assert.Len(t, res.Errors, 2)
	assert.Equal(t, map[string]string{"key": "WO3"}, res.Results["WO3"])
	assert.Equal(t, "no essential data extracted", res.Errors["WO2"])
	assert.Contains(t, res.Errors, "WO4")
}

func TestBatchOrchestrator_Process_SharesGlobalBound(t *testing.T) {
	var active, peak atomic.Int32
	runner := ItemRunnerFunc(func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return name, nil
	})
	o := NewBatchOrchestrator(runner, OrchestratorConfig{MaxConcurrent: 3}, zap.NewNop())

	var wg sync.WaitGroup
	for j := 0; j < 4; j++ {
		id, err := o.Create([]string{"A", "B", "C", "D"}, entity.BatchParams{})
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Process(context.Background(), id))
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, int(peak.Load()), 3)
	assert.Len(t, o.List(entity.StatusCompleted), 4)
}

func TestBatchOrchestrator_Process_Errors(t *testing.T) {
	o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())

	assert.ErrorIs(t, o.Process(context.Background(), "batch_missing"), ErrJobNotFound)

	id, err := o.Create([]string{"WO1"}, entity.BatchParams{})
	require.NoError(t, err)
	require.NoError(t, o.Process(context.Background(), id))
	assert.ErrorIs(t, o.Process(context.Background(), id), ErrJobNotPending)
}

func TestBatchOrchestrator_ProgressIsMonotonic(t *testing.T) {
	gate := make(chan struct{})
	runner := ItemRunnerFunc(func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
		<-gate
		if strings.HasSuffix(name, "3") {
			return nil, errors.New("failed")
		}
		return name, nil
	})
	o := NewBatchOrchestrator(runner, OrchestratorConfig{MaxConcurrent: 1}, zap.NewNop())
	id, err := o.Create([]string{"WO1", "WO2", "WO3", "WO4", "WO5"}, entity.BatchParams{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- o.Process(context.Background(), id) }()

	last := -1.0
	observe := func() entity.BatchSnapshot {
		snap, ok := o.Status(id)
		require.True(t, ok)
		assert.GreaterOrEqual(t, snap.ProgressPercentage, last)
		assert.LessOrEqual(t, snap.CompletedCount+snap.FailedCount, snap.TotalItems)
		last = snap.ProgressPercentage
		return snap
	}

	first := observe()
	assert.Zero(t, first.ETASeconds, "no ETA before any item settled")
	for i := 0; i < 5; i++ {
		gate <- struct{}{}
		settled := i + 1
		require.Eventually(t, func() bool {
			snap := observe()
			return snap.CompletedCount+snap.FailedCount == settled
		}, time.Second, time.Millisecond)
	}
	require.NoError(t, <-done)

	final := observe()
	assert.Equal(t, entity.StatusCompleted, final.Status)
	assert.Equal(t, 4, final.CompletedCount)
	assert.Equal(t, 1, final.FailedCount)
}

func TestBatchOrchestrator_StatusIsIdempotent(t *testing.T) {
	o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())
	id, err := o.Create([]string{"WO1", "WO2"}, entity.BatchParams{})
	require.NoError(t, err)
	require.NoError(t, o.Process(context.Background(), id))

	first, ok := o.Status(id)
	require.True(t, ok)
	second, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, first, second)

	_, ok = o.Status("batch_unknown")
	assert.False(t, ok)
	_, ok = o.Results("batch_unknown")
	assert.False(t, ok)
}

func TestBatchOrchestrator_Cancel(t *testing.T) {
	t.Run("completed job is left untouched", func(t *testing.T) {
		o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())
		id, err := o.Create([]string{"WO1", "WO2"}, entity.BatchParams{})
		require.NoError(t, err)
		require.NoError(t, o.Process(context.Background(), id))
		before, _ := o.Status(id)

		assert.False(t, o.Cancel(id))

		after, _ := o.Status(id)
		assert.Equal(t, entity.StatusCompleted, after.Status)
		assert.Equal(t, before, after)
	})

	t.Run("pending job is never processed", func(t *testing.T) {
		var calls atomic.Int32
		runner := ItemRunnerFunc(func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
			calls.Add(1)
			return name, nil
		})
		o := NewBatchOrchestrator(runner, OrchestratorConfig{}, zap.NewNop())
		id, err := o.Create([]string{"WO1", "WO2"}, entity.BatchParams{})
		require.NoError(t, err)

		require.True(t, o.Cancel(id))
		require.NoError(t, o.Process(context.Background(), id))

		snap, _ := o.Status(id)
		assert.Equal(t, entity.StatusCancelled, snap.Status)
		assert.NotNil(t, snap.CompletedAt)
		assert.Zero(t, calls.Load())
		assert.False(t, o.Cancel(id))
	})

	t.Run("processing job stops at item boundaries", func(t *testing.T) {
		started := make(chan string, 3)
		release := make(chan struct{})
		runner := ItemRunnerFunc(func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
			started <- name
			<-release
			return name, nil
		})
		o := NewBatchOrchestrator(runner, OrchestratorConfig{MaxConcurrent: 1}, zap.NewNop())
		id, err := o.Create([]string{"WO1", "WO2", "WO3"}, entity.BatchParams{})
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- o.Process(context.Background(), id) }()

		running := <-started
		require.True(t, o.Cancel(id))
		close(release)
		require.NoError(t, <-done)

		snap, _ := o.Status(id)
		assert.Equal(t, entity.StatusCancelled, snap.Status)
		assert.Equal(t, 1, snap.CompletedCount)
		assert.Equal(t, entity.StatusCompleted, snap.Jobs[running].Status)
		pending := 0
		for _, item := range snap.Jobs {
			if item.Status == entity.StatusPending {
				pending++
			}
		}
		assert.Equal(t, 2, pending)
		assert.Len(t, started, 0)
	})

	t.Run("unknown job", func(t *testing.T) {
		o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())
		assert.False(t, o.Cancel("batch_unknown"))
	})
}

func TestBatchOrchestrator_List(t *testing.T) {
	o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		o.now = func() time.Time { return at }
		id, err := o.Create([]string{"WO1"}, entity.BatchParams{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, o.Process(context.Background(), ids[1]))

	all := o.List("")
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[1], all[1].ID)
	assert.Equal(t, ids[0], all[2].ID)

	completed := o.List(entity.StatusCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, ids[1], completed[0].ID)
	assert.Equal(t, 1, completed[0].CompletedCount)

	assert.Len(t, o.List(entity.StatusPending), 2)
	assert.Empty(t, o.List(entity.StatusFailed))
}

func TestBatchOrchestrator_Cleanup(t *testing.T) {
	o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	o.now = func() time.Time { return now }

	done, err := o.Create([]string{"WO1"}, entity.BatchParams{})
	require.NoError(t, err)
	require.NoError(t, o.Process(context.Background(), done))

	cancelled, err := o.Create([]string{"WO2"}, entity.BatchParams{})
	require.NoError(t, err)
	require.True(t, o.Cancel(cancelled))

	pending, err := o.Create([]string{"WO3"}, entity.BatchParams{})
	require.NoError(t, err)

	now = start.Add(23 * time.Hour)
	assert.Zero(t, o.Cleanup(24*time.Hour))

	now = start.Add(25 * time.Hour)
	assert.Equal(t, 1, o.Cleanup(24*time.Hour))

	_, ok := o.Status(done)
	assert.False(t, ok)
	_, ok = o.Status(cancelled)
	assert.True(t, ok)
	_, ok = o.Status(pending)
	assert.True(t, ok)
}

func TestBatchOrchestrator_RunJanitor(t *testing.T) {
	o := NewBatchOrchestrator(echoRunner(), OrchestratorConfig{}, zap.NewNop())
	id, err := o.Create([]string{"WO1"}, entity.BatchParams{})
	require.NoError(t, err)
	require.NoError(t, o.Process(context.Background(), id))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		o.RunJanitor(ctx, 5*time.Millisecond, 0)
	}()

	assert.Eventually(t, func() bool {
		_, ok := o.Status(id)
		return !ok
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
}

func TestBatchOrchestrator_Process_InterruptedFailsJob(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	runner := ItemRunnerFunc(func(ctx context.Context, name string, params entity.BatchParams) (any, error) {
		if name == "HOLD" {
			started <- struct{}{}
			<-release
		}
		return name, nil
	})
	o := NewBatchOrchestrator(runner, OrchestratorConfig{MaxConcurrent: 1}, zap.NewNop())

	// The first job occupies the only slot so the second never starts an item.
	holder, err := o.Create([]string{"HOLD"}, entity.BatchParams{})
	require.NoError(t, err)
	holderDone := make(chan error, 1)
	go func() { holderDone <- o.Process(context.Background(), holder) }()
	<-started

	id, err := o.Create([]string{"WO1", "WO2", "WO3"}, entity.BatchParams{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Process(ctx, id) }()
	require.Eventually(t, func() bool {
		snap, _ := o.Status(id)
		return snap.Status == entity.StatusProcessing
	}, time.Second, time.Millisecond)
	cancel()

	err = <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	snap, ok := o.Status(id)
	require.True(t, ok)
	assert.Equal(t, entity.StatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "interrupted")
	assert.NotNil(t, snap.CompletedAt)
	assert.Zero(t, snap.CompletedCount)
	assert.Zero(t, snap.FailedCount)
	assert.Zero(t, snap.ETASeconds)
	assert.False(t, o.Cancel(id), "a failed job cannot be cancelled")

	close(release)
	require.NoError(t, <-holderDone)
	held, _ := o.Status(holder)
	assert.Equal(t, entity.StatusCompleted, held.Status)
}
