// Package shield provides the HTTP middleware in front of the carousel API:
// security headers, JSON body limits, request tracing and per-IP rate
// limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(shield.StackConfig{RatePerMinute: 30, Burst: 5}) {
//	    r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// StackConfig tunes DefaultAPIStack.
type StackConfig struct {
	RatePerMinute int // 0 disables rate limiting
	Burst         int
	MaxBodyBytes  int64 // default 64 KiB
	// RateExclude lists path prefixes that are never rate limited.
	RateExclude []string
}

// DefaultAPIStack returns the standard middleware stack for the API.
// Middleware is ordered: SecurityHeaders → MaxJSONBody → TraceID → RateLimiter.
// The returned stop function ends the limiter's garbage collector.
func DefaultAPIStack(cfg StackConfig) ([]func(http.Handler) http.Handler, func()) {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 * 1024
	}
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(DefaultHeaders()),
		MaxJSONBody(cfg.MaxBodyBytes),
		TraceID,
	}
	if cfg.RatePerMinute <= 0 {
		return stack, func() {}
	}

	rl := NewRateLimiter(cfg.RatePerMinute, cfg.Burst, cfg.RateExclude...)
	done := make(chan struct{})
	rl.StartGC(done)
	return append(stack, rl.Middleware), func() { close(done) }
}
