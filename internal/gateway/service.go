package gateway

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/athleterace/backend/internal/game"
	"github.com/athleterace/backend/internal/sports"
)

// Service bundles the WebSocket transport and the REST API around one
// session registry.
type Service struct {
	Manager *ConnectionManager
	Handler *Handler
	API     *API
}

// NewService builds the gateway around an existing registry.
func NewService(registry *game.Registry, catalog *sports.Catalog, clock clockwork.Clock, adminPassword string, config ConnectionConfig) *Service {
	manager := NewConnectionManager(config)
	return &Service{
		Manager: manager,
		Handler: NewHandler(manager, registry, clock),
		API:     NewAPI(registry, catalog, adminPassword),
	}
}

// RegisterRoutes mounts the WebSocket endpoint and the REST API.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Get("/ws", s.wsHandler())
	s.API.RegisterRoutes(r)
}

func (s *Service) wsHandler() http.HandlerFunc {
	return s.Handler.HandleConnection
}

// Start runs the broadcast fan-out loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.Manager.Start(ctx)
}
