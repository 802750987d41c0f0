// Package httputil provides the JSON request and response helpers and the
// middleware shared by the API and audit handlers.
//
// Errors from the permission packages are mapped to status codes in one
// place:
//
//	if err := mgr.RevokeFieldPermission(ctx, tenant, id); err != nil {
//		httputil.WriteError(w, err) // ErrNotFound -> 404, ErrValidation -> 400, ...
//		return
//	}
//
// Request bodies are decoded strictly:
//
//	var req grantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//
// Middleware order used by the server:
//
//	router.Use(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//		httputil.ContentTypeMiddleware,
//	)
package httputil
