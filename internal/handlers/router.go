package handlers

import (
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-simulator/internal/middleware"
	"github.com/ukydev/fleet-simulator/internal/models"
)

// NewRouter wires the status API routes. When auth is nil the API is open.
func NewRouter(h *StatusHandler, auth *middleware.AuthMiddleware, logger log.FieldLogger) http.Handler {
	open := func(next http.Handler) http.Handler { return next }
	viewFleet, viewIncidents, operator := open, open, open
	if auth != nil {
		viewFleet = func(next http.Handler) http.Handler {
			return auth.Authenticate(auth.RequirePermission("view_fleet")(next))
		}
		viewIncidents = func(next http.Handler) http.Handler {
			return auth.Authenticate(auth.RequirePermission("view_incidents")(next))
		}
		operator = func(next http.Handler) http.Handler {
			return auth.Authenticate(auth.RequireRole(models.RoleOperator)(next))
		}
	}

	limiter := middleware.NewRateLimitMiddleware()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.Health)
	mux.Handle("/api/vehicles", viewFleet(http.HandlerFunc(h.Vehicles)))
	mux.Handle("/api/incidents", viewIncidents(http.HandlerFunc(h.Incidents)))
	mux.Handle("/api/assignments", limiter.RateLimit(30, 60)(operator(http.HandlerFunc(h.Assign))))

	return middleware.RequestLogger(logger)(mux)
}
