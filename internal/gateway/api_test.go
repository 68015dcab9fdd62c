package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/athleterace/backend/internal/game"
	"github.com/athleterace/backend/internal/sports"
)

const testAdminPassword = "secret"

func newTestAPI(t *testing.T) (*API, *game.Registry, http.Handler) {
	t.Helper()
	catalog, err := sports.Default()
	require.NoError(t, err)

	registry := game.NewRegistry(
		clockwork.NewFakeClock(),
		noopBroadcaster{},
		nil,
		catalog,
		game.Options{Duration: 2 * time.Hour, Goal: 2000, ReconnectGrace: 5 * time.Minute, ResolverTimeout: time.Second},
		10*time.Minute,
	)
	t.Cleanup(registry.Close)

	api := NewAPI(registry, catalog, testAdminPassword)
	router := chi.NewRouter()
	api.RegisterRoutes(router)
	return api, registry, router
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastToSession(string, *game.Event)              {}
func (noopBroadcaster) BroadcastExceptConnection(string, string, *game.Event) {}
func (noopBroadcaster) BroadcastExceptUser(string, string, *game.Event)     {}
func (noopBroadcaster) SendToUser(string, string, *game.Event)              {}
func (noopBroadcaster) SendToConnection(string, string, *game.Event)        {}

func TestCreateSession(t *testing.T) {
	_, registry, router := newTestAPI(t)

	t.Run("creates with valid password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session/create",
			strings.NewReader(`{"username":"alice","admin_password":"secret"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp createSessionResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Regexp(t, `^[A-Z0-9]{6}$`, resp.Code)

		_, err := registry.Get(resp.Code)
		require.NoError(t, err)
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session/create",
			strings.NewReader(`{"username":"alice","admin_password":"nope"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects missing username", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session/create",
			strings.NewReader(`{"admin_password":"secret"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/session/create", strings.NewReader(`{`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetSession(t *testing.T) {
	_, registry, router := newTestAPI(t)
	s, err := registry.Create("alice")
	require.NoError(t, err)

	t.Run("found, case-insensitive code", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session/"+strings.ToLower(s.Code()), nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var state game.PublicState
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
		require.Equal(t, s.Code(), state.Code)
		require.Equal(t, "alice", state.HostUsername)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/session/ZZZZZZ", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListSports(t *testing.T) {
	_, _, router := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sports", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string][]sports.Sport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["sports"])
}

func TestHealthz(t *testing.T) {
	_, _, router := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
