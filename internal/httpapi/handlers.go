package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"gamelink.org/internal/auth"
	"gamelink.org/internal/gameserver"
	"gamelink.org/internal/link"
	"gamelink.org/internal/obs"
)

// ReadyProbe — readiness check (e.g. DB ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// GameStatus reports the game server's availability for the admin
// surface. Nil when no game server is configured.
type GameStatus interface {
	Status(ctx context.Context) (gameserver.ServerStatus, error)
}

// API — HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	svc        *link.Service
	game       GameStatus
	adminCheck auth.AdminCheck
	gameKey    *auth.APIKeyVerifier

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, svc *link.Service, game GameStatus, adminCheck auth.AdminCheck, gameKey *auth.APIKeyVerifier) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		game:       game,
		adminCheck: adminCheck,
		gameKey:    gameKey,
		rateBurst:  20,
		ratePerSec: 10,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// linking protocol
	a.mux.HandleFunc("/v1/links", a.handleLinksCollection)
	a.mux.HandleFunc("/v1/links/complete", a.handleLinkComplete)
	a.mux.HandleFunc("/v1/links/", a.handleLinkResource)

	// admin surface
	a.mux.HandleFunc("/v1/admin/stats", a.handleAdminStats)
	a.mux.HandleFunc("/v1/admin/sweep", a.handleAdminSweep)

	// game-server callbacks
	a.mux.HandleFunc("/v1/game/events", a.handleGameEvents)

	// service tokens
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.withAuth(a.mux)
	h = obs.Instrument(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return h
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gamelink-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "gamelink-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
