// Package correlation matches responses to the calls that are waiting for them.
package correlation

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"stream-rpc/rpcerr"
)

// Call is one outstanding remote call. Its result is assigned exactly once, by a response or
// by an abort.
type Call struct {
	ID       string
	FuncName string

	done   chan struct{}
	result any
	err    error
}

func newCall(id string, funcName string) *Call {
	return &Call{
		ID:       id,
		FuncName: funcName,
		done:     make(chan struct{}),
	}
}

// Done is closed once the call has been settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks the calling goroutine until the call is settled.
func (c *Call) Wait() (any, error) {
	<-c.done
	return c.result, c.err
}

// Await waits for the call or for ctx, whichever comes first. Giving up on ctx leaves the
// call pending; its eventual response is still consumed by the table.
func (c *Call) Await(ctx context.Context) (any, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	}
}

func (c *Call) settle(result any, err error) {
	c.result = result
	c.err = err
	close(c.done)
}

// Table holds the pending calls of one connection.
type Table struct {
	lock    sync.Mutex
	pending map[string]*Call
	aborted error
}

func NewTable() *Table {
	return &Table{pending: make(map[string]*Call)}
}

// Register allocates a fresh request id and stores a pending call for it.
func (t *Table) Register(funcName string) (*Call, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.aborted != nil {
		return nil, t.aborted
	}
	id := uuid.NewString()
	for _, exists := t.pending[id]; exists; _, exists = t.pending[id] {
		id = uuid.NewString()
	}
	call := newCall(id, funcName)
	t.pending[id] = call
	return call, nil
}

// Resolve settles the call with a result.
func (t *Table) Resolve(id string, result any) error {
	call, err := t.take(id)
	if err != nil {
		return err
	}
	call.settle(result, nil)
	return nil
}

// Reject settles the call with an error.
func (t *Table) Reject(id string, err error) error {
	call, terr := t.take(id)
	if terr != nil {
		return terr
	}
	call.settle(nil, err)
	return nil
}

// Remove forgets a call whose request never made it onto the wire. The call is not settled.
func (t *Table) Remove(id string) {
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.pending, id)
}

// AbortAll fails every pending call with ErrConnectionAborted, wrapping reason when given, and
// returns how many calls were failed. Register fails from then on.
func (t *Table) AbortAll(reason error) int {
	t.lock.Lock()
	abortErr := rpcerr.Aborted(reason)
	if t.aborted == nil {
		t.aborted = abortErr
	}
	pending := t.pending
	t.pending = make(map[string]*Call)
	t.lock.Unlock()

	for _, call := range pending {
		call.settle(nil, abortErr)
	}
	return len(pending)
}

func (t *Table) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.pending)
}

func (t *Table) take(id string) (*Call, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	call, ok := t.pending[id]
	if !ok {
		return nil, errors.Wrapf(rpcerr.ErrUnknownRequestID, "request id %q", id)
	}
	delete(t.pending, id)
	return call, nil
}
