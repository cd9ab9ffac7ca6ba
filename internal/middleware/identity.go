package middleware

import (
	"context"
	"net/http"

	"atelier/internal/domain"
)

const (
	tenantIDKey contextKey = "tenant_id"
	userIDKey   contextKey = "user_id"
)

// Identity resolves the calling tenant and user from the X-Tenant-ID and
// X-User-ID headers set by the authenticating proxy. In single-tenant mode
// the tenant header is optional and defaults to the configured tenant.
func Identity(mode domain.TenantMode, defaultTenantID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get("X-Tenant-ID")
			if tenantID == "" && mode == domain.TenantModeSingle {
				tenantID = defaultTenantID
			}
			userID := r.Header.Get("X-User-ID")
			if tenantID == "" || userID == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":{"code":"invalid_request","message":"missing identity headers"}}`))
				return
			}
			ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
			ctx = context.WithValue(ctx, userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantIDFromContext returns the tenant resolved by Identity.
func TenantIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(tenantIDKey).(string); ok {
		return v
	}
	return ""
}

// UserIDFromContext returns the user resolved by Identity.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
