package middleware

import (
	"context"
	"fmt"
	"time"

	"stream-rpc/message"
)

// TimeoutMiddleware fails a call with ret_code 500 when it runs longer than timeout. The
// handler's context is cancelled at that point; a handler that ignores it runs on but its
// result is discarded.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				defer func() {
					if r := recover(); r != nil {
						done <- failure(req, fmt.Sprint(r))
					}
				}()
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return failure(req, "request timed out")
			}
		}
	}
}
