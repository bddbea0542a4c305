package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stream-rpc/handler"
)

func registerDemoHandlers(reg *handler.Registry) error {
	if err := reg.RegisterSync("add", add); err != nil {
		return err
	}
	if err := reg.RegisterSync("echo", echo); err != nil {
		return err
	}
	if err := reg.RegisterAsync("sleep", sleep); err != nil {
		return err
	}
	return reg.RegisterSync("fail", fail)
}

// add sums its positional arguments.
func add(_ context.Context, args *handler.Args) (any, error) {
	var sum float64
	for i := 0; i < args.Len(); i++ {
		v, err := args.Float64(i)
		if err != nil {
			return nil, err
		}
		sum += v
	}
	return sum, nil
}

func echo(_ context.Context, args *handler.Args) (any, error) {
	return map[string]any{"args": args.Positional, "kw": args.Keyword}, nil
}

// sleep waits args[0] seconds and returns args[1].
func sleep(ctx context.Context, args *handler.Args) handler.Deferred {
	secs, err := args.Float64(0)
	if err != nil {
		return handler.Failed(err)
	}
	return handler.Go(func() (any, error) {
		select {
		case <-time.After(time.Duration(secs * float64(time.Second))):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if args.Len() > 1 {
			return args.Positional[1], nil
		}
		return secs, nil
	})
}

func fail(_ context.Context, args *handler.Args) (any, error) {
	return nil, errors.New(args.KwString("msg", "bad"))
}
