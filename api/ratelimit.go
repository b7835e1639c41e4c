package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const rateLimitPrefix = "ratelimit:"

// RateLimiter is a fixed-window request counter shared through Redis so
// every instance enforces the same per-client budget.
type RateLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	log    *log.Logger
	now    func() time.Time
}

// NewRateLimiter allows limit requests per client per window.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger *log.Logger) *RateLimiter {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RateLimiter{client: client, limit: limit, window: window, log: logger, now: time.Now}
}

func (r *RateLimiter) key(client string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", rateLimitPrefix, client, windowStart.Unix())
}

// Allow counts one request for client and reports whether it fits in the
// current window, along with the time the window resets.
func (r *RateLimiter) Allow(ctx context.Context, client string) (bool, time.Time, error) {
	start := r.now().Truncate(r.window)
	reset := start.Add(r.window)
	key := r.key(client, start)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.window)
		return nil
	})
	if err != nil {
		return true, reset, err
	}
	return incr.Val() <= int64(r.limit), reset, nil
}

// Middleware rejects clients over budget with 429. Redis failures let the
// request through.
func (r *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if r == nil || r.client == nil || r.limit <= 0 {
				return next(c)
			}
			ok, reset, err := r.Allow(c.Request().Context(), c.RealIP())
			if err != nil {
				r.log.WithError(err).Warn("rate limiter unavailable")
				return next(c)
			}
			if !ok {
				secs := int(reset.Sub(r.now()) / time.Second)
				if secs < 1 {
					secs = 1
				}
				c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, please try again later.")
			}
			return next(c)
		}
	}
}
