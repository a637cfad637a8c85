package http

import (
	"crypto/subtle"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/wavekeeper/internal/config"
	"github.com/fyrsmithlabs/wavekeeper/internal/logging"
)

// requestLogger renders handler errors, logs the request and puts the request
// id on the context for service logs. Health probes log at debug and server
// errors at warn.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			lvl := zapcore.InfoLevel
			switch {
			case status >= 500:
				lvl = zapcore.WarnLevel
			case c.Path() == "/health":
				lvl = zapcore.DebugLevel
			}
			if ce := logger.Check(lvl, "http request"); ce != nil {
				ce.Write(
					zap.String("method", req.Method),
					zap.String("uri", req.RequestURI),
					zap.Int("status", status),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", id),
				)
			}
			return nil
		}
	}
}

// rateLimiter limits per client IP. Health probes are never limited.
func rateLimiter(limit float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = int(limit) + 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool { return c.Path() == "/health" },
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(limit),
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
	})
}

func bearerAuth(token config.Secret) echo.MiddlewareFunc {
	want := []byte(token.Value())
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), want) == 1, nil
		},
	})
}
