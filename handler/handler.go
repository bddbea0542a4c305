// Package handler holds the named functions a server exposes, and the argument and deferred
// result types they work with.
//
// A handler is either synchronous, run to completion on a worker goroutine, or asynchronous,
// returning a Deferred right away that the server then awaits.
package handler

import (
	"context"
)

type SyncFunc func(ctx context.Context, args *Args) (any, error)

type AsyncFunc func(ctx context.Context, args *Args) Deferred

type Kind int

const (
	KindSync Kind = iota
	KindAsync
)

func (k Kind) String() string {
	if k == KindAsync {
		return "async"
	}
	return "sync"
}

// Handler is a tagged union of SyncFunc and AsyncFunc. Build one with Sync or Async.
type Handler struct {
	kind    Kind
	syncFn  SyncFunc
	asyncFn AsyncFunc
}

func Sync(fn SyncFunc) Handler {
	return Handler{kind: KindSync, syncFn: fn}
}

func Async(fn AsyncFunc) Handler {
	return Handler{kind: KindAsync, asyncFn: fn}
}

func (h Handler) Kind() Kind {
	return h.kind
}

func (h Handler) Valid() bool {
	return (h.kind == KindSync && h.syncFn != nil) || (h.kind == KindAsync && h.asyncFn != nil)
}

// RunSync calls a sync handler. It must only be used when Kind is KindSync.
func (h Handler) RunSync(ctx context.Context, args *Args) (any, error) {
	return h.syncFn(ctx, args)
}

// Start calls an async handler. It must only be used when Kind is KindAsync.
func (h Handler) Start(ctx context.Context, args *Args) Deferred {
	return h.asyncFn(ctx, args)
}
