package httpapi

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"corpusd/internal/model"
)

type tenantContextKey struct{}

func tenantFromContext(ctx context.Context) (model.Tenant, bool) {
	t, ok := ctx.Value(tenantContextKey{}).(model.Tenant)
	return t, ok
}

// withTenant resolves X-API-Key to a tenant via a fingerprint lookup and
// injects it into the request context. Every downstream store call then
// carries this resolved tenant_id, which is how the tenant isolation
// invariant is enforced end to end.
func (s *Server) withTenant(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key")
			return
		}
		fingerprint := fingerprint(apiKey)
		tenant, err := s.metadata.GetTenantByFingerprint(r.Context(), fingerprint)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown credential")
			return
		}
		ctx := context.WithValue(r.Context(), tenantContextKey{}, tenant)
		next(w, r.WithContext(ctx))
	}
}

// withInternal compares X-Internal-Token against the deployment secret in
// constant time, granting cross-tenant admin operations.
func (s *Server) withInternal(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Token")
		if s.internalToken == "" || token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.internalToken)) != 1 {
			writeError(w, http.StatusForbidden, "internal scope required")
			return
		}
		next(w, r)
	}
}

func fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
