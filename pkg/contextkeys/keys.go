// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/assetperm/pkg/contextkeys"
//	ctx = contextkeys.WithOrganizationID(ctx, "org-1")
//	org := contextkeys.GetOrganizationID(ctx)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// OrganizationIDKey contains the tenant organization id string
	// Set by: api.organizationMiddleware from the X-Organization-ID header
	// Required by: every /v1 endpoint
	// Type: string
	OrganizationIDKey Key = "organization_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: api.requestIDMiddleware, observability layer
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// ActorKey contains the id of the user performing a management call
	// Set by: api.organizationMiddleware from the X-Actor-ID header
	// Used by: engine.Manager audit entries, CreatedBy of rules
	// Type: string
	ActorKey Key = "actor"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains request start timestamp
	// Set by: api.requestIDMiddleware
	// Used by: request duration logging
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// WithOrganizationID adds the tenant organization to the context
func WithOrganizationID(ctx context.Context, org string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, org)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithActor adds the acting user to the context
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetOrganizationID retrieves the tenant organization from context
func GetOrganizationID(ctx context.Context) string {
	if org, ok := ctx.Value(OrganizationIDKey).(string); ok {
		return org
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetActor retrieves the acting user from context
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}

// GetRequestStartTime retrieves the request start time, or the zero time
func GetRequestStartTime(ctx context.Context) time.Time {
	if t, ok := ctx.Value(RequestStartTimeKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}
