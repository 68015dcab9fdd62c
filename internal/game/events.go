package game

import (
	"time"

	"github.com/google/uuid"

	"github.com/athleterace/backend/internal/models"
)

// EventType identifies an outbound event. The set is closed: the gateway
// marshals these verbatim onto every attached connection.
type EventType string

const (
	EventSessionJoined     EventType = "session_joined"
	EventUserJoined        EventType = "user_joined"
	EventUserLeft          EventType = "user_left"
	EventGameStarted       EventType = "game_started"
	EventAthleteAdded      EventType = "athlete_added"
	EventLeaderboardUpdate EventType = "leaderboard_update"
	EventSubmissionError   EventType = "submission_error"
	EventTimerTick         EventType = "timer_tick"
	EventGameEnded         EventType = "game_ended"
	EventGamePaused        EventType = "game_paused"
	EventGameResumed       EventType = "game_resumed"
	EventPlayerRemoved     EventType = "player_removed"
	EventUserRemoved       EventType = "user_removed"
	EventError             EventType = "error"
)

// Event is the envelope broadcast to clients. Data is marshaled once per
// broadcast by the connection manager.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func newEvent(t EventType, at time.Time, data any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: at,
		Data:      data,
	}
}

// NewErrorEvent builds a generic error event for the originating connection.
func NewErrorEvent(at time.Time, message string) *Event {
	return newEvent(EventError, at, ErrorPayload{Message: message})
}

// NewSubmissionErrorEvent builds a submission_error event.
func NewSubmissionErrorEvent(at time.Time, payload SubmissionErrorPayload) *Event {
	return newEvent(EventSubmissionError, at, payload)
}

// Broadcaster fans out events to the connections attached to a session.
// Implementations must not block: the session emits events while holding
// its own exclusion.
type Broadcaster interface {
	BroadcastToSession(code string, event *Event)
	BroadcastExceptConnection(code, connectionID string, event *Event)
	BroadcastExceptUser(code, username string, event *Event)
	SendToUser(code, username string, event *Event)
	SendToConnection(code, connectionID string, event *Event)
}

// SessionJoinedPayload is the full state snapshot delivered to a joining or
// reconnecting connection. It replaces any event replay.
type SessionJoinedPayload struct {
	Code                 string                    `json:"code"`
	Status               models.SessionStatus      `json:"status"`
	StartedAt            *time.Time                `json:"started_at,omitempty"`
	EndsAt               *time.Time                `json:"ends_at,omitempty"`
	Athletes             []models.Submission       `json:"athletes"`
	Count                int                       `json:"count"`
	Users                []models.UserStatus       `json:"users"`
	YourSubmissions      int                       `json:"your_submissions"`
	Reconnected          bool                      `json:"reconnected"`
	IsHost               bool                      `json:"is_host"`
	HostUsername         string                    `json:"host_username"`
	Leaderboard          []models.LeaderboardEntry `json:"leaderboard"`
	IsPaused             bool                      `json:"is_paused"`
	TimeRemainingAtPause *int                      `json:"time_remaining_at_pause,omitempty"`
}

type UserJoinedPayload struct {
	Username    string              `json:"username"`
	Reconnected bool                `json:"reconnected"`
	Users       []models.UserStatus `json:"users"`
	UserCount   int                 `json:"user_count"`
}

type UserLeftPayload struct {
	Username  string              `json:"username"`
	Users     []models.UserStatus `json:"users"`
	UserCount int                 `json:"user_count"`
	Reason    string              `json:"reason"`
}

type GameStartedPayload struct {
	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type AthleteAddedPayload struct {
	Athlete models.Submission `json:"athlete"`
	Count   int               `json:"count"`
}

type LeaderboardUpdatePayload struct {
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

// SubmissionErrorPayload reports a rejected submission to its sender only.
type SubmissionErrorPayload struct {
	Code         string `json:"error"`
	Message      string `json:"message"`
	RequiresHint bool   `json:"requires_hint,omitempty"`
}

type TimerTickPayload struct {
	Remaining int `json:"remaining"`
}

type GameEndedPayload struct {
	FinalCount          int                         `json:"final_count"`
	GoalReached         bool                        `json:"goal_reached"`
	Athletes            []models.Submission         `json:"athletes"`
	Leaderboard         []models.LeaderboardEntry   `json:"leaderboard"`
	RejectedSubmissions []models.RejectedSubmission `json:"rejected_submissions"`
}

type GamePausedPayload struct {
	TimeRemaining int `json:"time_remaining"`
}

type GameResumedPayload struct {
	EndsAt time.Time `json:"ends_at"`
}

type PlayerRemovedPayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type UserRemovedPayload struct {
	Username    string                    `json:"username"`
	Users       []models.UserStatus       `json:"users"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
