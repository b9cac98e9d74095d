package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/labstack/echo/v4"
)

// RateLimit limits requests per client IP using the shared Redis sliding
// window limiter. Limiter errors fail open so Redis trouble never takes the
// API down with it.
func RateLimit(limiter *redis.RateLimiter, logger ectologger.Logger, limit int64, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			key := fmt.Sprintf("%s:%s", c.Path(), c.RealIP())
			result, err := limiter.Allow(ctx, key, limit, window)
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("rate limit check failed, allowing request")
				return next(c)
			}

			if !result.Allowed {
				retryAfter := int(result.RetryIn.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}
