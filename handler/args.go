package handler

import (
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Args are the positional and keyword arguments of one request, as decoded from JSON.
// Numbers arrive as float64; the typed accessors coerce with spf13/cast.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

func NewArgs(positional []any, keyword map[string]any) *Args {
	if positional == nil {
		positional = []any{}
	}
	if keyword == nil {
		keyword = map[string]any{}
	}
	return &Args{Positional: positional, Keyword: keyword}
}

func (a *Args) Len() int {
	return len(a.Positional)
}

// Get returns the positional argument at i.
func (a *Args) Get(i int) (any, error) {
	if i < 0 || i >= len(a.Positional) {
		return nil, errors.Errorf("missing positional argument %d, got %d", i, len(a.Positional))
	}
	return a.Positional[i], nil
}

func (a *Args) Int(i int) (int, error) {
	v, err := a.Get(i)
	if err != nil {
		return 0, err
	}
	n, err := cast.ToIntE(v)
	return n, errors.Wrapf(err, "argument %d", i)
}

func (a *Args) Int64(i int) (int64, error) {
	v, err := a.Get(i)
	if err != nil {
		return 0, err
	}
	n, err := cast.ToInt64E(v)
	return n, errors.Wrapf(err, "argument %d", i)
}

func (a *Args) Float64(i int) (float64, error) {
	v, err := a.Get(i)
	if err != nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(v)
	return f, errors.Wrapf(err, "argument %d", i)
}

func (a *Args) String(i int) (string, error) {
	v, err := a.Get(i)
	if err != nil {
		return "", err
	}
	s, err := cast.ToStringE(v)
	return s, errors.Wrapf(err, "argument %d", i)
}

func (a *Args) Bool(i int) (bool, error) {
	v, err := a.Get(i)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	return b, errors.Wrapf(err, "argument %d", i)
}

// Kw returns the keyword argument name, if present.
func (a *Args) Kw(name string) (any, bool) {
	v, ok := a.Keyword[name]
	return v, ok
}

func (a *Args) KwString(name string, def string) string {
	v, ok := a.Keyword[name]
	if !ok {
		return def
	}
	return cast.ToString(v)
}

func (a *Args) KwFloat64(name string, def float64) float64 {
	v, ok := a.Keyword[name]
	if !ok {
		return def
	}
	return cast.ToFloat64(v)
}

func (a *Args) KwBool(name string, def bool) bool {
	v, ok := a.Keyword[name]
	if !ok {
		return def
	}
	return cast.ToBool(v)
}
