package game

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/models"
	"github.com/athleterace/backend/internal/resolver"
	"github.com/athleterace/backend/internal/sports"
)

// Options holds the per-session game parameters, shared by every session a
// registry creates.
type Options struct {
	Duration        time.Duration // length of the countdown once started
	Goal            int           // submission target reported in game_ended
	ReconnectGrace  time.Duration // window in which a rejoin is framed as a reconnect
	ResolverTimeout time.Duration // bound on one external resolution round-trip
}

// pendingDisambiguation ties a username to the ambiguous submission awaiting
// a clarifying hint. At most one outstanding per username.
type pendingDisambiguation struct {
	name  string
	sport string
}

// Session owns one game's authoritative state. Every mutating operation is
// serialized behind mu; broadcasts consume snapshots built under the same
// lock, so readers never observe a half-applied transition. Operations on
// different sessions are fully independent.
type Session struct {
	code string

	clock       clockwork.Clock
	broadcaster Broadcaster
	resolver    resolver.Resolver
	catalog     *sports.Catalog
	opts        Options

	mu               sync.Mutex
	status           models.SessionStatus
	createdAt        time.Time
	startedAt        time.Time
	endsAt           time.Time
	paused           bool
	remainingAtPause time.Duration
	completedAt      time.Time
	hostUsername     string
	submissions      []models.Submission
	acceptedIDs      map[string]bool
	rejected         []models.RejectedSubmission
	participants     map[string]*models.Participant
	pending          map[string]pendingDisambiguation
	connections      map[string]string // connection id -> username
	clockStop        chan struct{}
}

func newSession(code, hostUsername string, clock clockwork.Clock, broadcaster Broadcaster, res resolver.Resolver, catalog *sports.Catalog, opts Options) *Session {
	return &Session{
		code:         code,
		clock:        clock,
		broadcaster:  broadcaster,
		resolver:     res,
		catalog:      catalog,
		opts:         opts,
		status:       models.SessionStatusWaiting,
		createdAt:    clock.Now(),
		hostUsername: hostUsername,
		acceptedIDs:  make(map[string]bool),
		participants: make(map[string]*models.Participant),
		pending:      make(map[string]pendingDisambiguation),
		connections:  make(map[string]string),
	}
}

// Code returns the session's join code.
func (s *Session) Code() string {
	return s.code
}

// Join attaches a connection under a username. First-time usernames get a
// participant record; known disconnected usernames are reconnected and
// receive a full state snapshot instead of any event replay. A second live
// connection for an already-connected username shares the same participant
// identity. Completed sessions accept joins as read-only observers.
func (s *Session) Join(connectionID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, seen := s.participants[username]
	if seen && p.Removed {
		return notAuthorizedf("You have been removed from this session")
	}

	now := s.clock.Now()
	reconnected := seen && !p.Connected && now.Sub(p.DisconnectedAt) < s.opts.ReconnectGrace

	if s.status != models.SessionStatusCompleted {
		if !seen {
			s.participants[username] = &models.Participant{
				Username:  username,
				IsHost:    username == s.hostUsername,
				Connected: true,
				JoinedAt:  now,
				LastSeen:  now,
			}
		} else {
			p.Connected = true
			p.LastSeen = now
		}
	}
	s.connections[connectionID] = username

	s.broadcaster.SendToConnection(s.code, connectionID,
		newEvent(EventSessionJoined, now, s.sessionJoinedLocked(username, reconnected)))

	if s.status != models.SessionStatusCompleted {
		s.broadcaster.BroadcastExceptConnection(s.code, connectionID,
			newEvent(EventUserJoined, now, UserJoinedPayload{
				Username:    username,
				Reconnected: reconnected,
				Users:       s.usersWithStatusLocked(),
				UserCount:   len(s.connections),
			}))
	}

	log.Info().
		Str("session_code", s.code).
		Str("username", username).
		Bool("reconnected", reconnected).
		Msg("user joined session")
	return nil
}

// Disconnect detaches a connection. The participant record survives; only
// when the username's last connection goes away is the participant marked
// disconnected and announced as departed.
func (s *Session) Disconnect(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.connections[connectionID]
	if !ok {
		return
	}
	delete(s.connections, connectionID)

	for _, other := range s.connections {
		if other == username {
			return // another tab is still attached
		}
	}

	// Observers of a completed session never entered the roster; their
	// departure is not announced.
	p, ok := s.participants[username]
	if !ok || p.Removed {
		return
	}

	now := s.clock.Now()
	p.Connected = false
	p.DisconnectedAt = now
	p.LastSeen = now

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventUserLeft, now, UserLeftPayload{
			Username:  username,
			Users:     s.usersWithStatusLocked(),
			UserCount: len(s.connections),
			Reason:    "disconnected",
		}))

	log.Info().Str("session_code", s.code).Str("username", username).Msg("user disconnected")
}

// Start transitions Waiting -> Active and arms the countdown. Host only.
func (s *Session) Start(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username != s.hostUsername {
		return notAuthorizedf("Only the host can start the game")
	}
	if s.status != models.SessionStatusWaiting {
		return invalidStatef("Game already started")
	}

	now := s.clock.Now()
	s.status = models.SessionStatusActive
	s.startedAt = now
	s.endsAt = now.Add(s.opts.Duration)

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventGameStarted, now, GameStartedPayload{StartedAt: now, EndsAt: s.endsAt}))
	s.startClockLocked()

	log.Info().Str("session_code", s.code).Time("ends_at", s.endsAt).Msg("game started")
	return nil
}

// Pause freezes the countdown, capturing the remaining time. Host only.
func (s *Session) Pause(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username != s.hostUsername {
		return notAuthorizedf("Only the host can pause the game")
	}
	if s.status != models.SessionStatusActive || s.paused {
		return invalidStatef("Cannot pause game (not active or already paused)")
	}

	now := s.clock.Now()
	remaining := s.endsAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	s.paused = true
	s.remainingAtPause = remaining
	s.stopClockLocked()

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventGamePaused, now, GamePausedPayload{TimeRemaining: int(remaining.Seconds())}))

	log.Info().Str("session_code", s.code).Dur("remaining", remaining).Msg("game paused")
	return nil
}

// Resume shifts endsAt so the remaining time captured at pause is preserved
// exactly, then restarts the countdown. Host only.
func (s *Session) Resume(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username != s.hostUsername {
		return notAuthorizedf("Only the host can resume the game")
	}
	if s.status != models.SessionStatusActive || !s.paused {
		return invalidStatef("Cannot resume game (not active or not paused)")
	}

	now := s.clock.Now()
	s.endsAt = now.Add(s.remainingAtPause)
	s.paused = false
	s.remainingAtPause = 0

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventGameResumed, now, GameResumedPayload{EndsAt: s.endsAt}))
	s.startClockLocked()

	log.Info().Str("session_code", s.code).Time("ends_at", s.endsAt).Msg("game resumed")
	return nil
}

// EndEarly terminates an active (or paused) game before its scheduled
// expiry. Host only.
func (s *Session) EndEarly(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username != s.hostUsername {
		return notAuthorizedf("Only the host can end the game")
	}
	if s.status != models.SessionStatusActive {
		return invalidStatef("Game is not active")
	}

	s.completeLocked()
	log.Info().Str("session_code", s.code).Msg("game ended early by host")
	return nil
}

// RemovePlayer flips the target participant into the removed terminal
// sub-state; the record (and their accepted submissions) stays so they
// cannot silently rejoin. Returns the target's connection IDs so the
// transport can detach them. Host only.
func (s *Session) RemovePlayer(username, targetUsername string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if username != s.hostUsername {
		return nil, notAuthorizedf("Only the host can remove players")
	}
	if targetUsername == username {
		return nil, validationf("Cannot remove yourself")
	}
	if s.status == models.SessionStatusCompleted {
		return nil, invalidStatef("This session has ended")
	}
	p, ok := s.participants[targetUsername]
	if !ok || p.Removed {
		return nil, validationf("Player not found in session")
	}

	now := s.clock.Now()
	p.Removed = true
	p.Connected = false
	p.LastSeen = now
	delete(s.pending, targetUsername)

	var removedConns []string
	for id, uname := range s.connections {
		if uname == targetUsername {
			removedConns = append(removedConns, id)
		}
	}

	s.broadcaster.SendToUser(s.code, targetUsername,
		newEvent(EventPlayerRemoved, now, PlayerRemovedPayload{
			Username: targetUsername,
			Message:  "You have been removed from the session by the host.",
		}))

	for _, id := range removedConns {
		delete(s.connections, id)
	}

	s.broadcaster.BroadcastExceptUser(s.code, targetUsername,
		newEvent(EventUserRemoved, now, UserRemovedPayload{
			Username:    targetUsername,
			Users:       s.usersWithStatusLocked(),
			Leaderboard: s.leaderboardLocked(),
		}))

	log.Info().
		Str("session_code", s.code).
		Str("username", targetUsername).
		Str("removed_by", username).
		Msg("player removed from session")
	return removedConns, nil
}

// completeLocked transitions to Completed exactly once, stops the clock and
// broadcasts the final recap. Idempotent against racing expiry evaluations.
func (s *Session) completeLocked() {
	if s.status == models.SessionStatusCompleted {
		return
	}
	now := s.clock.Now()
	s.status = models.SessionStatusCompleted
	s.completedAt = now
	s.paused = false
	s.stopClockLocked()

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventGameEnded, now, GameEndedPayload{
			FinalCount:          len(s.submissions),
			GoalReached:         len(s.submissions) >= s.opts.Goal,
			Athletes:            append([]models.Submission(nil), s.submissions...),
			Leaderboard:         s.leaderboardLocked(),
			RejectedSubmissions: append([]models.RejectedSubmission(nil), s.rejected...),
		}))

	log.Info().
		Str("session_code", s.code).
		Int("final_count", len(s.submissions)).
		Msg("game ended")
}

// Status returns the current lifecycle status.
func (s *Session) Status() models.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ConnectedCount returns the number of live connections.
func (s *Session) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// removable reports whether the janitor may drop this session: completed
// longer than retention ago with nobody attached.
func (s *Session) removable(retention time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == models.SessionStatusCompleted &&
		len(s.connections) == 0 &&
		s.clock.Now().Sub(s.completedAt) >= retention
}

// shutdown stops the countdown goroutine, if any. Called by the registry
// when a session is removed.
func (s *Session) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopClockLocked()
}

// PublicState is the REST snapshot of a session.
type PublicState struct {
	Code           string               `json:"code"`
	Status         models.SessionStatus `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	EndsAt         *time.Time           `json:"ends_at,omitempty"`
	Count          int                  `json:"count"`
	HostUsername   string               `json:"host_username"`
	Athletes       []models.Submission  `json:"athletes"`
	ConnectedUsers int                  `json:"connected_users"`
}

// State returns a read-only snapshot for the REST API.
func (s *Session) State() PublicState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := PublicState{
		Code:           s.code,
		Status:         s.status,
		CreatedAt:      s.createdAt,
		Count:          len(s.submissions),
		HostUsername:   s.hostUsername,
		Athletes:       append([]models.Submission(nil), s.submissions...),
		ConnectedUsers: len(s.connections),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		state.StartedAt = &t
	}
	if !s.endsAt.IsZero() {
		t := s.endsAt
		state.EndsAt = &t
	}
	return state
}

func (s *Session) sessionJoinedLocked(username string, reconnected bool) SessionJoinedPayload {
	payload := SessionJoinedPayload{
		Code:            s.code,
		Status:          s.status,
		Athletes:        append([]models.Submission(nil), s.submissions...),
		Count:           len(s.submissions),
		Users:           s.usersWithStatusLocked(),
		YourSubmissions: s.submissionCountLocked(username),
		Reconnected:     reconnected,
		IsHost:          username == s.hostUsername,
		HostUsername:    s.hostUsername,
		Leaderboard:     s.leaderboardLocked(),
		IsPaused:        s.paused,
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		payload.StartedAt = &t
	}
	if !s.endsAt.IsZero() {
		t := s.endsAt
		payload.EndsAt = &t
	}
	if s.paused {
		secs := int(s.remainingAtPause.Seconds())
		payload.TimeRemainingAtPause = &secs
	}
	return payload
}

// usersWithStatusLocked lists non-removed participants: host first, then
// connected before disconnected, then by username.
func (s *Session) usersWithStatusLocked() []models.UserStatus {
	users := make([]models.UserStatus, 0, len(s.participants))
	for _, p := range s.participants {
		if p.Removed {
			continue
		}
		users = append(users, models.UserStatus{
			Username:    p.Username,
			IsConnected: p.Connected,
			IsHost:      p.IsHost,
		})
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if a.IsHost != b.IsHost {
			return a.IsHost
		}
		if a.IsConnected != b.IsConnected {
			return a.IsConnected
		}
		return a.Username < b.Username
	})
	return users
}

func (s *Session) leaderboardLocked() []models.LeaderboardEntry {
	return computeLeaderboard(s.participants, s.submissions)
}

func (s *Session) submissionCountLocked(username string) int {
	count := 0
	for _, sub := range s.submissions {
		if sub.SubmittedBy == username {
			count++
		}
	}
	return count
}

func (s *Session) rejectLocked(name, sportQID, username, reason string) {
	s.rejected = append(s.rejected, models.RejectedSubmission{
		Name:        name,
		Sport:       s.catalog.Label(sportQID),
		Username:    username,
		Reason:      reason,
		SubmittedAt: s.clock.Now(),
	})
}
