// Package executor runs handlers for the server. Async handlers run on the caller's
// goroutine and their Deferred is awaited; sync handlers run on a bounded pool of worker
// goroutines so a slow one does not stall the connection that called it or any other.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"stream-rpc/handler"
	"stream-rpc/logger"
	"stream-rpc/rpcerr"
)

const (
	DefaultWorkers        = 64
	DefaultMaxUnwrapDepth = 16
)

type Executor struct {
	workers   *semaphore.Weighted
	maxUnwrap int
}

// New creates an executor with the given number of worker slots for sync handlers. Values
// <= 0 select the defaults.
func New(workers int64, maxUnwrap int) *Executor {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if maxUnwrap <= 0 {
		maxUnwrap = DefaultMaxUnwrapDepth
	}
	return &Executor{
		workers:   semaphore.NewWeighted(workers),
		maxUnwrap: maxUnwrap,
	}
}

type outcome struct {
	result any
	err    error
}

// Invoke runs h with args and returns its final value, with every Deferred unwrapped.
// Handler errors and panics come back as errors.
func (e *Executor) Invoke(ctx context.Context, h handler.Handler, args *handler.Args) (any, error) {
	var result any
	var err error
	if h.Kind() == handler.KindAsync {
		result, err = e.start(ctx, h, args)
	} else {
		result, err = e.runOnWorker(ctx, h, args)
	}
	if err != nil {
		return nil, err
	}
	return e.unwrap(ctx, result)
}

func (e *Executor) start(ctx context.Context, h handler.Handler, args *handler.Args) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	d := h.Start(ctx, args)
	if d == nil {
		return nil, nil
	}
	return d, nil
}

func (e *Executor) runOnWorker(ctx context.Context, h handler.Handler, args *handler.Args) (any, error) {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, errors.WithStack(err)
	}
	ch := make(chan outcome, 1)
	go func() {
		defer e.workers.Release(1)
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: panicError(r)}
			}
		}()
		res, err := h.RunSync(ctx, args)
		ch <- outcome{result: res, err: err}
	}()
	select {
	case o := <-ch:
		return o.result, o.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (e *Executor) unwrap(ctx context.Context, result any) (any, error) {
	for depth := 0; ; depth++ {
		d, ok := result.(handler.Deferred)
		if !ok {
			return result, nil
		}
		if depth >= e.maxUnwrap {
			return nil, errors.Wrapf(rpcerr.ErrUnwrapDepth, "more than %d levels", e.maxUnwrap)
		}
		var err error
		result, err = await(ctx, d)
		if err != nil {
			return nil, err
		}
	}
}

func await(ctx context.Context, d handler.Deferred) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, panicError(r)
		}
	}()
	return d.Await(ctx)
}

func panicError(r any) error {
	if logger.DebugEnabled() {
		logger.Debugf("handler panic: %v\n%s", r, debug.Stack())
	}
	if err, ok := r.(error); ok {
		return errors.WithStack(err)
	}
	return errors.New(fmt.Sprint(r))
}
