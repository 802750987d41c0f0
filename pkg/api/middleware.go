package api

import (
	"net/http"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/httputil"
)

// Tenant headers
const (
	OrganizationHeader = "X-Organization-ID"
	ActorHeader        = "X-Actor-ID"
)

// TenantMiddleware requires X-Organization-ID and stores it, with the
// optional X-Actor-ID, in the request context
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		org := r.Header.Get(OrganizationHeader)
		if org == "" {
			httputil.WriteBadRequest(w, OrganizationHeader+" header is required")
			return
		}
		ctx := contextkeys.WithOrganizationID(r.Context(), org)
		if actor := r.Header.Get(ActorHeader); actor != "" {
			ctx = contextkeys.WithActor(ctx, actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bindOrganization fills *org from the request context and rejects a body
// that names a different organization
func bindOrganization(w http.ResponseWriter, r *http.Request, org *string) bool {
	header := contextkeys.GetOrganizationID(r.Context())
	if *org != "" && *org != header {
		httputil.WriteBadRequest(w, "organization_id does not match "+OrganizationHeader)
		return false
	}
	*org = header
	return true
}
