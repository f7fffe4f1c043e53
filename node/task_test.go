package node

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskManagerStartStop(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)

	var runs atomic.Int32
	mgr.Start("spinner", func() bool {
		runs.Add(1)
		time.Sleep(time.Millisecond)
		return true
	})

	require.Eventually(func() bool { return runs.Load() > 3 }, time.Second, 5*time.Millisecond)
	require.Equal(1, mgr.TaskCount())

	mgr.Stop()
	mgr.Wait()
	require.Zero(mgr.TaskCount())
}

func TestTaskManagerTaskReturnsFalse(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)

	var runs atomic.Int32
	mgr.Start("one-shot", func() bool {
		runs.Add(1)
		return false
	})

	mgr.Wait()
	require.Equal(int32(1), runs.Load())
	require.Zero(mgr.TaskCount())
}

func TestTaskManagerInterval(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)

	var ticks atomic.Int32
	mgr.StartInterval("ticker", func() bool {
		ticks.Add(1)
		return true
	}, 5*time.Millisecond, true)

	require.Eventually(func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	mgr.Stop()
	mgr.Wait()
}

func TestTaskManagerParentContext(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewTaskManager(ctx, nil)

	mgr.Start("waiter", func() bool {
		time.Sleep(time.Millisecond)
		return true
	})

	cancel()
	mgr.Wait()
	require.Zero(mgr.TaskCount())
}
