// Package httpapi is the HTTP surface. Handlers decode and encode; every
// authorization decision lives in the policy layer behind the services.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"resqlink.org/internal/auth"
	"resqlink.org/internal/emergency"
	"resqlink.org/internal/files"
	"resqlink.org/internal/identity"
	"resqlink.org/internal/obs"
)

// ReadyProbe reports readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the services into routes.
type API struct {
	router     chi.Router
	tokens     *auth.Tokens
	identity   *identity.Service
	emergency  *emergency.Service
	blobs      files.Store
	readyProbe ReadyProbe
	version    string

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, tokens *auth.Tokens, ident *identity.Service, emerg *emergency.Service, blobs files.Store) *API {
	a := &API{
		tokens:     tokens,
		identity:   ident,
		emergency:  emerg,
		blobs:      blobs,
		readyProbe: rp,
		version:    version,
		rateBurst:  20,
		ratePerSec: 10,
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(MaxBodyBytes(16 << 20))
	r.Use(RateLimit(a.rateBurst, a.ratePerSec))

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Post("/auth/logout", a.handleLogout)
			r.Get("/me", a.handleMe)

			r.Get("/reports", a.handleListReports)
			r.Post("/reports", a.handleSubmitReport)
			r.Delete("/reports/{id}", a.handleDeleteReport)

			r.Get("/sos", a.handleListSOS)
			r.Post("/sos", a.handleSendSOS)
			r.Delete("/sos", a.handleCleanupSOS)
			r.Delete("/sos/{id}", a.handleResolveSOS)

			r.Get("/notes", a.handleListNotes)
			r.Post("/notes", a.handleCreateNote)
			r.Put("/notes/{id}", a.handleUpdateNote)
			r.Delete("/notes/{id}", a.handleDeleteNote)

			r.Get("/announcements", a.handleListAnnouncements)
			r.Post("/announcements", a.handleCreateAnnouncement)
			r.Delete("/announcements/{id}", a.handleDeleteAnnouncement)

			r.Get("/polygons", a.handleListPolygons)
			r.Post("/polygons", a.handleCreatePolygon)
			r.Put("/polygons/{id}", a.handleUpdatePolygon)
			r.Delete("/polygons/{id}", a.handleDeletePolygon)

			r.Get("/villages", a.handleListVillages)
			r.Put("/villages/status", a.handleUpdateVillageStatus)
			r.Post("/broadcast", a.handleBroadcast)

			r.Get("/files/{ref}", a.handleGetFile)
		})
	})

	return r
}

// Handler wraps the router with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "resqlink-api",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
