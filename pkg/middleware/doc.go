// Package middleware provides per-organization rate limiting for the HTTP API.
//
// Two limiters implement Limiter:
//
//   - RateLimiter: in-process token bucket, RequestsPerWindow per window
//     with BurstSize extra tokens
//   - DistributedRateLimiter: fixed window counter in Redis, shared by every
//     node; fails open when Redis is unreachable
//
// Usage:
//
//	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
//	limiter.StartCleanup(ctx)
//	v1.Use(api.TenantMiddleware, middleware.OrganizationRateLimit(limiter))
//
// Rejected requests get 429 with Retry-After and the JSON error body used by
// the rest of the API.
package middleware
