package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Deferred is a result that is not ready yet. Its value may itself be a Deferred.
type Deferred interface {
	Await(ctx context.Context) (any, error)
}

// Future is a Deferred completed by a single call to Resolve or Reject. Later calls are
// ignored.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) Resolve(result any) {
	f.complete(result, nil)
}

func (f *Future) Reject(err error) {
	f.complete(nil, err)
}

func (f *Future) complete(result any, err error) {
	f.once.Do(func() {
		f.result = result
		f.err = err
		close(f.done)
	})
}

func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

// Resolved returns a Deferred that is already complete.
func Resolved(result any) Deferred {
	f := NewFuture()
	f.Resolve(result)
	return f
}

// Failed returns a Deferred that has already failed with err.
func Failed(err error) Deferred {
	f := NewFuture()
	f.Reject(err)
	return f
}

// Go runs fn on a new goroutine and returns a Deferred for its outcome. A panic in fn
// rejects the Deferred.
func Go(fn func() (any, error)) Deferred {
	f := NewFuture()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.Reject(errors.New(fmt.Sprint(r)))
			}
		}()
		res, err := fn()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(res)
	}()
	return f
}
