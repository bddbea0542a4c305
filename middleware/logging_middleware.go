package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stream-rpc/message"
)

// LoggingMiddleware logs every call at debug and every failed call at warn.
func LoggingMiddleware(log *zap.SugaredLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)
			if !resp.OK() {
				log.Warnw("call failed", "func", req.FuncName, "request_id", req.RequestID,
					"ret_code", resp.RetCode, "msg", resp.Msg, "duration", duration)
				return resp
			}
			log.Debugw("call", "func", req.FuncName, "request_id", req.RequestID, "duration", duration)
			return resp
		}
	}
}
