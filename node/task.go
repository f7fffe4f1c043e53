package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/tagsync/logger"
)

// TaskFunc is one iteration of a managed task loop. It returns true to keep
// running or false to stop the goroutine.
type TaskFunc func() bool

// TaskManager owns the goroutines of one node: the channel listener loops,
// the heartbeat ticker and the acquisition executor. Stop cancels all of
// them and Wait blocks until every goroutine returned.
type TaskManager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map // map[string]*time.Ticker
}

// NewTaskManager creates a task manager whose tasks stop when ctx is
// canceled or Stop is called.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &TaskManager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the manager's context; tasks that block outside the loop
// structure select on it.
func (mgr *TaskManager) Context() context.Context {
	return mgr.ctx
}

// Start launches a goroutine that invokes taskFunc repeatedly until it
// returns false or the manager stops.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc) {
	mgr.logger.Debug("start task", "name", name)
	mgr.count.Add(1)
	mgr.wg.Add(1)

	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name)
		}()

		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
			}

			if !taskFunc() {
				return
			}
		}
	}()
}

// StartInterval launches a goroutine that invokes taskFunc on every tick
// until it returns false or the manager stops. When runNow is true the
// first invocation happens before the first tick.
func (mgr *TaskManager) StartInterval(name string, taskFunc TaskFunc, interval time.Duration, runNow bool) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval)

	ticker := time.NewTicker(interval)
	mgr.tickers.Store(name, ticker)

	mgr.count.Add(1)
	mgr.wg.Add(1)

	go func() {
		defer func() {
			ticker.Stop()
			mgr.tickers.Delete(name)
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("interval task terminated", "name", name)
		}()

		if runNow && !taskFunc() {
			return
		}

		for {
			select {
			case <-mgr.ctx.Done():
				return
			case <-ticker.C:
				if !taskFunc() {
					return
				}
			}
		}
	}()
}

// TaskCount returns the number of live tasks.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

// Stop cancels all tasks.
func (mgr *TaskManager) Stop() {
	mgr.cancel()
	mgr.tickers.Range(func(_ any, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}
		return true
	})
}

// Wait blocks until every task goroutine terminated.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()
}
