package handler

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"stream-rpc/rpcerr"
)

// Registry maps function names to handlers. It is written during setup and read while
// serving.
type Registry struct {
	lock     sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) error {
	if name == "" {
		return errors.New("handler name must not be empty")
	}
	if !h.Valid() {
		return errors.Errorf("handler %q has no function", name)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, exists := r.handlers[name]; exists {
		return errors.Wrapf(rpcerr.ErrDuplicateName, "name %q", name)
	}
	r.handlers[name] = h
	return nil
}

func (r *Registry) RegisterSync(name string, fn SyncFunc) error {
	return r.Register(name, Sync(fn))
}

func (r *Registry) RegisterAsync(name string, fn AsyncFunc) error {
	return r.Register(name, Async(fn))
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
