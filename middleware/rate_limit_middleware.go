package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"stream-rpc/message"
)

// RateLimitMiddleware admits r requests per second with the given burst, shared by every
// connection of the server. Rejected requests fail with ret_code 500.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return failure(req, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
