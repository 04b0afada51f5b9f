package middleware

import (
	"time"

	applogger "TickWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs one line per request. Upgraded websocket requests are
// logged when the viewer disconnects, so their latency is the session length.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", c.Response().Status),
				applogger.Duration("latency_ms", time.Since(start)),
			}
			if err != nil {
				l.Warn("http request", append(fields, applogger.Error(err))...)
				return err
			}
			l.Debug("http request", fields...)
			return nil
		}
	}
}
