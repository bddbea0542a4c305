package handler

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

var (
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	argsType     = reflect.TypeOf((*Args)(nil))
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	anyType      = reflect.TypeOf((*any)(nil)).Elem()
	deferredType = reflect.TypeOf((*Deferred)(nil)).Elem()
)

// RegisterService registers the exported methods of rcvr, which must be a pointer to a
// struct, under "Type.Method". Methods shaped like SyncFunc become sync handlers and methods
// shaped like AsyncFunc become async handlers; anything else is skipped. It returns the
// registered names.
func (r *Registry) RegisterService(rcvr any) ([]string, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("service receiver must be a pointer to a struct, got %T", rcvr)
	}
	val := reflect.ValueOf(rcvr)
	serviceName := typ.Elem().Name()

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		h, ok := methodHandler(val.Method(i), method.Type)
		if !ok {
			continue
		}
		name := serviceName + "." + method.Name
		if err := r.Register(name, h); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.Errorf("service %s has no handler methods", serviceName)
	}
	return names, nil
}

// methodHandler wraps a bound method. mtype includes the receiver as its first input.
func methodHandler(bound reflect.Value, mtype reflect.Type) (Handler, bool) {
	if mtype.NumIn() != 3 || mtype.In(1) != contextType || mtype.In(2) != argsType {
		return Handler{}, false
	}
	switch {
	case mtype.NumOut() == 2 && mtype.Out(0) == anyType && mtype.Out(1) == errorType:
		return Sync(func(ctx context.Context, args *Args) (any, error) {
			out := bound.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(args)})
			if !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			return out[0].Interface(), nil
		}), true
	case mtype.NumOut() == 1 && mtype.Out(0) == deferredType:
		return Async(func(ctx context.Context, args *Args) Deferred {
			out := bound.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(args)})
			if out[0].IsNil() {
				return Resolved(nil)
			}
			return out[0].Interface().(Deferred)
		}), true
	}
	return Handler{}, false
}
