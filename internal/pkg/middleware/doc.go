// Package middleware provides HTTP middleware components for the arena server.
//
// Available middleware:
//   - RateLimiter: per-client submission limiting with a token bucket
//   - Recovery: turns handler panics into sanitized 500 responses
//   - CORS: cross-origin headers for browser clients
//   - Logging: request logging with a request ID on the context
//   - InFlight: counts active requests so shutdown can drain them
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
//	defer rl.Stop()
//	handler = rl.Middleware(handler)
package middleware
