// Package httpserver is the HTTP boundary: route wiring, JSON decoding,
// and status-code mapping. None of this is part of the core's signing
// contract; the wire schemas here can evolve without touching the frozen
// binary encoding in internal/evidence.
package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yuanjing-labs/yuanjing-core/internal/auth"
	"github.com/yuanjing-labs/yuanjing-core/internal/evidence"
	"github.com/yuanjing-labs/yuanjing-core/internal/export"
	"github.com/yuanjing-labs/yuanjing-core/internal/identity"
	"github.com/yuanjing-labs/yuanjing-core/internal/mmrstore"
	"github.com/yuanjing-labs/yuanjing-core/internal/whitelist"
)

// AppContext holds the shared singletons every handler needs, built once
// at bootstrap and passed to the handler constructors. The handler set is
// small and fixed, so dependencies are plain typed fields rather than
// anything more generic.
type AppContext struct {
	Whitelist    *whitelist.Registry
	Orchestrator *evidence.Orchestrator
	MMR          *mmrstore.Store
	Signer       identity.Signer
	Exporter     *export.Streamer
	AuthSecret   string
}

// NewRouter builds the chi router with request logging, panic recovery,
// a request timeout, and the optional bearer guard from internal/auth on
// the mutating routes.
func NewRouter(app *AppContext) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireBearer(app.AuthSecret))
		r.Post("/model/register", handleRegister(app))
		r.Post("/prove", handleProve(app))
	})

	r.Get("/audit/{pos}", handleAudit(app))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
