package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/assetperm/pkg/contextkeys"
	"github.com/platinummonkey/assetperm/pkg/httputil"
	"github.com/platinummonkey/assetperm/pkg/observability"
)

// OrganizationRateLimit limits requests per organization. It must run after
// the tenant middleware; requests without an organization pass through.
func OrganizationRateLimit(limiter Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org := contextkeys.GetOrganizationID(r.Context())
			if org == "" {
				next.ServeHTTP(w, r)
				return
			}

			cfg := limiter.Config()
			allowed, err := limiter.Allow(r.Context(), "org:"+org)
			if err != nil {
				observability.FromContext(r.Context()).WithOrganization(org).WithError(err).
					Warn("rate limiter unavailable, allowing request")
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerWindow))
			if !allowed {
				rateLimitExceeded(w, cfg.WindowDuration)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitExceeded(w http.ResponseWriter, window time.Duration) {
	w.Header().Set("Retry-After", fmt.Sprintf("%.0f", window.Seconds()))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
		Error: "rate limit exceeded",
		Code:  "rate_limited",
	})
}
