// Package middleware wraps the server's dispatch of a single request.
//
// Chain(A, B, C)(h) gives A(B(C(h))): A runs first on the way in and last on the way out.
package middleware

import (
	"context"

	"stream-rpc/message"
	"stream-rpc/rpcerr"
)

// HandlerFunc turns one request into its response. It never returns nil.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

func failure(req *message.Request, msg string) *message.Response {
	resp := req.Reply()
	resp.RetCode = rpcerr.CodeHandlerError
	resp.Msg = msg
	return resp
}
