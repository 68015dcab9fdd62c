package models

import (
	"time"
)

// SessionStatus defines the lifecycle status of a game session.
type SessionStatus string

const (
	SessionStatusWaiting   SessionStatus = "waiting"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// Submission is an accepted athlete entry. Once appended to a session's
// accepted list it is never mutated.
type Submission struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"` // canonical name when resolved, raw input otherwise
	RawName       string     `json:"-"`
	CanonicalName string     `json:"canonical_name,omitempty"`
	EntityID      string     `json:"-"` // resolver identity key, empty if unresolved
	Sport         string     `json:"-"` // sport Q-ID
	SportLabel    string     `json:"sport"`
	SubmittedBy   string     `json:"submitted_by"`
	SubmittedAt   time.Time  `json:"submitted_at"`
	Validated     bool       `json:"validated"`
	Hint          string     `json:"-"`
}

// RejectedSubmission records a submission that was turned away, for the
// end-of-game recap.
type RejectedSubmission struct {
	Name        string    `json:"name"`
	Sport       string    `json:"sport"`
	Username    string    `json:"username"`
	Reason      string    `json:"reason"`
	SubmittedAt time.Time `json:"-"`
}

// Participant is a username's persistent membership record within a session.
// Records are never deleted while the session lives; removal by the host
// flips Removed instead.
type Participant struct {
	Username       string
	IsHost         bool
	Connected      bool
	Removed        bool
	JoinedAt       time.Time
	LastSeen       time.Time
	DisconnectedAt time.Time
}

// UserStatus is the wire shape for participant lists.
type UserStatus struct {
	Username    string `json:"username"`
	IsConnected bool   `json:"is_connected"`
	IsHost      bool   `json:"is_host"`
}

// LeaderboardEntry is derived from the submission list on every recompute.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}
