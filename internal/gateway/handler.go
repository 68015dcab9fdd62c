package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/game"
)

// Handler terminates the WebSocket protocol: it upgrades connections,
// decodes commands and maps them onto session operations. Errors from the
// game core are translated into events for the originating connection only.
type Handler struct {
	manager  *ConnectionManager
	registry *game.Registry
	clock    clockwork.Clock
}

// NewHandler wires a handler into the connection manager's message and
// disconnect hooks.
func NewHandler(manager *ConnectionManager, registry *game.Registry, clock clockwork.Clock) *Handler {
	h := &Handler{
		manager:  manager,
		registry: registry,
		clock:    clock,
	}
	manager.onMessage = h.dispatch
	manager.onDisconnect = h.handleDisconnect
	return h
}

// HandleConnection upgrades the request; all session interaction happens via
// commands on the socket, starting with join_session.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.manager.UpgradeConnection(w, r); err != nil {
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
	}
}

// dispatch routes one inbound message. Every command except join_session
// requires the connection to be bound to a session first; the bound username
// is the only identity the game core ever sees, so a client cannot act as
// anyone else.
func (h *Handler) dispatch(c *Connection, raw []byte) {
	cmd, err := parseCommand(raw)
	if err != nil {
		h.sendError(c, "Invalid command")
		return
	}

	if cmd.Type == CommandJoinSession {
		h.handleJoin(c, cmd)
		return
	}

	code, username := c.Identity()
	if code == "" {
		h.sendError(c, "Join a session first")
		return
	}
	session, err := h.registry.Get(code)
	if err != nil {
		h.sendError(c, "Session not found")
		return
	}

	// Commands echo the acting username; a mismatch with the bound
	// identity means a spoofed payload.
	var claim actorClaim
	if err := decodePayload(cmd, &claim); err == nil && claim.Username != "" && claim.Username != username {
		h.sendError(c, "Username does not match this connection")
		return
	}

	switch cmd.Type {
	case CommandStartGame:
		h.reportError(c, session.Start(username))
	case CommandPauseGame:
		h.reportError(c, session.Pause(username))
	case CommandResumeGame:
		h.reportError(c, session.Resume(username))
	case CommandEndGameEarly:
		h.reportError(c, session.EndEarly(username))
	case CommandSubmitAthlete:
		var payload SubmitAthletePayload
		if err := decodePayload(cmd, &payload); err != nil {
			h.sendError(c, "Invalid submission payload")
			return
		}
		// Resolution can take seconds; don't stall this client's read loop.
		go h.handleSubmit(c, session, username, payload)
	case CommandRemovePlayer:
		var payload RemovePlayerPayload
		if err := decodePayload(cmd, &payload); err != nil {
			h.sendError(c, "Invalid remove payload")
			return
		}
		h.handleRemove(c, session, username, payload.TargetUsername)
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Str("command_type", string(cmd.Type)).
			Msg("unknown command type")
		h.sendError(c, "Unknown command type")
	}
}

func (h *Handler) handleJoin(c *Connection, cmd *Command) {
	var payload JoinSessionPayload
	if err := decodePayload(cmd, &payload); err != nil {
		h.sendError(c, "Invalid join payload")
		return
	}
	username, err := validateUsername(payload.Username)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	code := normalizeCode(payload.Code)

	if bound, _ := c.Identity(); bound != "" {
		h.sendError(c, "Already joined a session")
		return
	}

	session, err := h.registry.Get(code)
	if err != nil {
		h.sendError(c, "Session not found")
		return
	}

	// Attach before Join so the snapshot event can reach this connection.
	c.bind(code, username)
	h.manager.attach(c, code)
	if err := session.Join(c.ID, username); err != nil {
		// Deliver the rejection before tearing the connection down; the
		// write pump flushes queued events on shutdown.
		h.sendError(c, game.UserMessage(err))
		h.manager.detach(c)
		c.bind("", "")
	}
}

func (h *Handler) handleSubmit(c *Connection, session *game.Session, username string, payload SubmitAthletePayload) {
	err := session.Submit(context.Background(), username, payload.Name, payload.Sport, payload.Hint)
	if err == nil {
		return
	}

	code, _ := c.Identity()
	event := game.NewSubmissionErrorEvent(h.clock.Now(), SubmissionErrorFor(err))
	h.manager.SendToConnection(code, c.ID, event)
}

// SubmissionErrorFor maps a pipeline error to its wire payload.
func SubmissionErrorFor(err error) game.SubmissionErrorPayload {
	payload := game.SubmissionErrorPayload{Message: game.UserMessage(err)}
	switch {
	case game.RequiresHint(err):
		payload.Code = "requires_hint"
		payload.RequiresHint = true
	case errors.Is(err, game.ErrDuplicate):
		payload.Code = "duplicate"
	case errors.Is(err, game.ErrInvalidState):
		payload.Code = "not_active"
	case errors.Is(err, game.ErrNotAuthorized):
		payload.Code = "not_authorized"
	default:
		payload.Code = "invalid"
	}
	return payload
}

func (h *Handler) handleRemove(c *Connection, session *game.Session, username, target string) {
	code, _ := c.Identity()
	removedConns, err := session.RemovePlayer(username, target)
	if err != nil {
		h.sendError(c, game.UserMessage(err))
		return
	}
	// Queued after the player_removed event, so the notice flushes first.
	for _, id := range removedConns {
		h.manager.CloseConnection(code, id)
	}
}

func (h *Handler) handleDisconnect(c *Connection) {
	code, _ := c.Identity()
	if code == "" {
		return
	}
	session, err := h.registry.Get(code)
	if err != nil {
		return
	}
	session.Disconnect(c.ID)
}

// reportError forwards an operation error to the originating connection;
// nil errors are silent because the resulting state change is broadcast.
func (h *Handler) reportError(c *Connection, err error) {
	if err != nil {
		h.sendError(c, game.UserMessage(err))
	}
}

func (h *Handler) sendError(c *Connection, message string) {
	h.manager.sendDirect(c, game.NewErrorEvent(h.clock.Now(), message))
}

func decodePayload(cmd *Command, dst any) error {
	if len(cmd.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(cmd.Payload, dst)
}
