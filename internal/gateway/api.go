package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/game"
	"github.com/athleterace/backend/internal/sports"
)

// API serves the small REST surface next to the WebSocket: session creation
// (guarded by the shared admin secret), public session snapshots and the
// sport catalog.
type API struct {
	registry      *game.Registry
	catalog       *sports.Catalog
	adminPassword string
}

func NewAPI(registry *game.Registry, catalog *sports.Catalog, adminPassword string) *API {
	return &API{
		registry:      registry,
		catalog:       catalog,
		adminPassword: adminPassword,
	}
}

// RegisterRoutes mounts the REST endpoints on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/api/session/create", a.handleCreateSession)
	r.Get("/api/session/{code}", a.handleGetSession)
	r.Get("/api/sports", a.handleListSports)
	r.Get("/healthz", a.handleHealth)
}

type createSessionRequest struct {
	Username      string `json:"username"`
	AdminPassword string `json:"admin_password"`
}

type createSessionResponse struct {
	Code string `json:"code"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	username, err := validateUsername(req.Username)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.AdminPassword), []byte(a.adminPassword)) != 1 {
		respondError(w, http.StatusUnauthorized, "invalid admin password")
		return
	}

	session, err := a.registry.Create(username)
	if err != nil {
		log.Error().Err(err).Msg("failed to create session")
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	respondJSON(w, http.StatusCreated, createSessionResponse{Code: session.Code()})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	code := normalizeCode(chi.URLParam(r, "code"))
	session, err := a.registry.Get(code)
	if err != nil {
		if errors.Is(err, game.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	respondJSON(w, http.StatusOK, session.State())
}

func (a *API) handleListSports(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]sports.Sport{"sports": a.catalog.List()})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
