package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRasterThreadMerger_LeaseLifecycle tests the lease counter
// Main test items:
// 1. Merge with a lease of 2 frames
// 2. Each DecrementLease consumes one frame
// 3. The merge is undone when the lease reaches zero
func TestRasterThreadMerger_LeaseLifecycle(t *testing.T) {
	q := NewMessageLoopTaskQueues()
	platform := q.CreateTaskQueue()
	raster := q.CreateTaskQueue()
	m := NewRasterThreadMerger(q, platform, raster)

	assert.Equal(t, RemainsUnmerged, m.DecrementLease())

	m.MergeWithLease(2)
	require.True(t, m.IsMerged())
	assert.True(t, q.RunsOnTheSameThread(platform, raster))

	assert.Equal(t, RemainsMerged, m.DecrementLease())
	assert.Equal(t, UnmergedNow, m.DecrementLease())
	assert.False(t, m.IsMerged())
	assert.False(t, q.RunsOnTheSameThread(platform, raster))
	assert.Equal(t, RemainsUnmerged, m.DecrementLease())
}

func TestRasterThreadMerger_ExtendLease(t *testing.T) {
	q := NewMessageLoopTaskQueues()
	m := NewRasterThreadMerger(q, q.CreateTaskQueue(), q.CreateTaskQueue())

	m.ExtendLeaseTo(5)
	assert.Equal(t, 0, m.LeaseTerm(), "extending an unmerged pair does nothing")

	m.MergeWithLease(1)
	m.ExtendLeaseTo(3)
	assert.Equal(t, 3, m.LeaseTerm())
	m.MergeWithLease(2)
	assert.Equal(t, 3, m.LeaseTerm(), "a shorter lease does not shorten")

	assert.Equal(t, RemainsMerged, m.DecrementLease())
	assert.Equal(t, RemainsMerged, m.DecrementLease())
	assert.Equal(t, UnmergedNow, m.DecrementLease())
}

func TestRasterThreadMerger_DisableFreezesState(t *testing.T) {
	q := NewMessageLoopTaskQueues()
	m := NewRasterThreadMerger(q, q.CreateTaskQueue(), q.CreateTaskQueue())

	m.MergeWithLease(1)
	m.Disable()
	assert.False(t, m.IsEnabled())
	assert.Equal(t, RemainsMerged, m.DecrementLease())
	m.UnMergeNow()
	assert.True(t, m.IsMerged())

	m.Enable()
	m.UnMergeNow()
	assert.False(t, m.IsMerged())

	m.Disable()
	m.MergeWithLease(3)
	assert.False(t, m.IsMerged())
}

func TestRasterThreadMerger_WaitUntilMerged(t *testing.T) {
	q := NewMessageLoopTaskQueues()
	m := NewRasterThreadMerger(q, q.CreateTaskQueue(), q.CreateTaskQueue())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitUntilMerged(ctx), context.DeadlineExceeded)

	errCh := make(chan error, 1)
	go func() { errCh <- m.WaitUntilMerged(context.Background()) }()
	m.MergeWithLease(1)
	assert.NoError(t, <-errCh)
}

func TestRasterThreadMerger_ThreadQueries(t *testing.T) {
	registry := NewMessageLoopTaskQueues()
	platform := newTestThread(t, registry, "platform")
	raster := newTestThread(t, registry, "raster")
	m := NewRasterThreadMerger(registry,
		platform.GetTaskRunner().GetTaskQueueID(),
		raster.GetTaskRunner().GetTaskQueueID())

	var onPlatform, onRaster bool
	require.NoError(t, raster.GetTaskRunner().PostSyncTask(func(context.Context) {
		onPlatform = m.IsOnPlatformThread()
		onRaster = m.IsOnRasterizingThread()
	}))
	assert.False(t, onPlatform)
	assert.True(t, onRaster)

	m.MergeWithLease(1)
	require.NoError(t, platform.GetTaskRunner().PostSyncTask(func(context.Context) {
		onPlatform = m.IsOnPlatformThread()
		onRaster = m.IsOnRasterizingThread()
	}))
	assert.True(t, onPlatform)
	assert.True(t, onRaster)
}

func TestTaskRunnerChecker(t *testing.T) {
	registry := NewMessageLoopTaskQueues()
	a := newTestThread(t, registry, "a")
	b := newTestThread(t, registry, "b")

	assert.Panics(t, func() { NewTaskRunnerChecker(registry) })

	var checker *TaskRunnerChecker
	require.NoError(t, b.GetTaskRunner().PostSyncTask(func(context.Context) {
		checker = NewTaskRunnerChecker(registry)
	}))
	assert.Equal(t, b.GetTaskRunner().GetTaskQueueID(), checker.CreationTaskQueueID())

	check := func(th *Thread) bool {
		var v bool
		require.NoError(t, th.GetTaskRunner().PostSyncTask(func(context.Context) {
			v = checker.RunsOnCreationTaskRunner()
		}))
		return v
	}
	assert.True(t, check(b))
	assert.False(t, check(a))

	aID, bID := a.GetTaskRunner().GetTaskQueueID(), b.GetTaskRunner().GetTaskQueueID()
	require.True(t, registry.Merge(aID, bID))
	assert.True(t, check(a))
	assert.True(t, RunsOnTheSameThread(registry, aID, bID))

	require.True(t, registry.Unmerge(aID, bID))
	assert.False(t, check(a))
	assert.True(t, check(b))
	assert.False(t, RunsOnTheSameThread(registry, aID, bID))
}
