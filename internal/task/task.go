// Package task manages the lifecycle of the background goroutines owned by a
// link, such as the transport read loop.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-runin/logger"
)

// ErrStopped is returned when a task is started on a Manager that has already been stopped.
var ErrStopped = errors.New("task: manager already stopped")

// startTimeout bounds how long Start waits for the goroutine to report that it is running.
const startTimeout = 5 * time.Second

// Func performs one iteration of a task. It returns true to keep running, or
// false to stop the goroutine.
type Func func(ctx context.Context) bool

// ExitFunc is called once when a task goroutine exits, whether it stopped by
// itself, panicked, or was cancelled.
//
// cancelled reports whether the manager was stopped before the task returned false.
type ExitFunc func(cancelled bool)

// Manager runs named task goroutines bound to a common context.
//
// Stop cancels the context seen by every task; Wait blocks until all of them
// have returned. A Manager is single-use: once stopped it refuses new tasks.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("readLoop", func(ctx context.Context) bool {
//	    // ... one blocking read bounded by a timeout ...
//	    return true
//	}, nil)
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
}

// NewManager creates a Manager whose tasks are cancelled when ctx is done or Stop is called.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Start starts a goroutine that calls taskFunc in a loop until it returns
// false or the manager is stopped. onExit, if not nil, runs when the goroutine exits.
func (mgr *Manager) Start(name string, taskFunc Func, onExit ExitFunc) error {
	if taskFunc == nil {
		return fmt.Errorf("task: %s has no task function", name)
	}

	select {
	case <-mgr.ctx.Done():
		return ErrStopped
	default:
	}

	mgr.logger.Debug("start task", "name", name)

	started := make(chan struct{})
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()

		close(started)

		mgr.runLoop(name, taskFunc)

		if onExit != nil {
			mgr.callWithRecover(name, func() {
				onExit(mgr.ctx.Err() != nil)
			})
		}
	}()

	select {
	case <-started:
		return nil
	case <-time.After(startTimeout):
		return fmt.Errorf("task: timeout waiting for %s to start", name)
	}
}

// Stop signals all running tasks to stop. It does not wait for them.
func (mgr *Manager) Stop() {
	mgr.cancel()
}

// Wait blocks until every task goroutine has exited.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// Done returns a channel that is closed when the manager is stopped.
func (mgr *Manager) Done() <-chan struct{} {
	return mgr.ctx.Done()
}

// Count returns the number of running task goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) runLoop(name string, taskFunc Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-mgr.ctx.Done():
			return
		default:
			if !taskFunc(mgr.ctx) {
				return
			}
		}
	}
}

func (mgr *Manager) callWithRecover(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task exit handler", "name", name, "panic", r)
		}
	}()

	fn()
}
