package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/apprenticewatch/apprenticewatch/internal/server"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

func HealthHandler(svr server.Server, db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			svr.Log(err, "health check: database ping")
			svr.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		svr.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
