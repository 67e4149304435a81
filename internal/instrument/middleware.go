package instrument

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger assigns (or propagates) a request id, bounds the request
// context by timeout, stores a request-scoped logger in the user context and
// logs one line per request once downstream handlers return. Errors are
// handed to the app's ErrorHandler here rather than returned.
func RequestLogger(base *zap.Logger, timeout time.Duration) fiber.Handler {
	base = OrNop(base)
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(RequestIDHeader, reqID)

		l := base.With(zap.String("request_id", reqID))

		ctx := c.UserContext()
		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		ctx = WithRequestID(ctx, reqID)
		ctx = WithLogger(ctx, l)
		c.SetUserContext(ctx)

		err := c.Next()
		if err != nil {
			// Render now so the logged status is the one the client gets.
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}
		status := c.Response().StatusCode()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= 500:
			l.Error("request", append(fields, zap.Error(err))...)
		case status >= 400:
			l.Warn("request", fields...)
		default:
			l.Info("request", fields...)
		}
		return nil
	}
}
