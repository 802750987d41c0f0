package api

import (
	"net"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/engine"
	"github.com/platinummonkey/assetperm/pkg/httputil"
)

// AuthorizeHandlers serves permission decisions
type AuthorizeHandlers struct {
	engine *engine.Engine
}

// NewAuthorizeHandlers creates new authorize handlers
func NewAuthorizeHandlers(e *engine.Engine) *AuthorizeHandlers {
	return &AuthorizeHandlers{engine: e}
}

// RegisterRoutes registers authorize routes
func (h *AuthorizeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authorize", h.authorize).Methods("POST")
}

// authorize handles POST /authorize. Denials are decisions, not errors,
// so the status is 200 whenever the body parses.
func (h *AuthorizeHandlers) authorize(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !bindOrganization(w, r, &req.Principal.Tenant.OrganizationID) {
		return
	}
	if req.Principal.RequestID == "" {
		req.Principal.RequestID = contextkeys.GetRequestID(r.Context())
	}
	if req.Principal.IPAddress == "" {
		req.Principal.IPAddress = clientIP(r)
	}

	httputil.WriteSuccess(w, h.engine.Authorize(r.Context(), req))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
