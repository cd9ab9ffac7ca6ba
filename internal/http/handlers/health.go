package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health reports service liveness and database reachability.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	if a.Pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Pool.Ping(ctx); err != nil {
			a.json(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
