package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestLimiter(t *testing.T, limit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	logger, _ := test.NewNullLogger()
	return NewRateLimiter(rc, limit, 15*time.Minute, logger), m
}

func TestRateLimiterFixedWindow(t *testing.T) {
	rl, m := newTestLimiter(t, 2)
	now := time.Date(2024, 1, 1, 10, 1, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx, "1.2.3.4")
		if err != nil || !ok {
			t.Fatalf("request %d should pass: %v %v", i, ok, err)
		}
	}
	ok, reset, err := rl.Allow(ctx, "1.2.3.4")
	if err != nil || ok {
		t.Fatalf("third request should be limited: %v %v", ok, err)
	}
	if want := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC); !reset.Equal(want) {
		t.Fatalf("unexpected reset %v, want %v", reset, want)
	}
	if ok, _, _ := rl.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatalf("other clients have their own budget")
	}

	key := rl.key("1.2.3.4", now.Truncate(15*time.Minute))
	if ttl := m.TTL(key); ttl != 15*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	now = now.Add(15 * time.Minute)
	if ok, _, _ := rl.Allow(ctx, "1.2.3.4"); !ok {
		t.Fatalf("budget should reset in the next window")
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	logger, _ := test.NewNullLogger()
	e := echo.New()
	Setup(e, logger)
	e.Use(rl.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}
	if rec := call(); rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := call()
	expectError(t, rec, http.StatusTooManyRequests, "Too many requests, please try again later.")
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	rl, m := newTestLimiter(t, 1)
	m.Close()
	e := echo.New()
	e.Use(rl.Middleware())
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d rejected while redis is down: %d", i, rec.Code)
		}
	}
}
