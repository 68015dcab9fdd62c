package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// CommandType identifies an inbound client command. The set is closed;
// anything else is answered with an error event.
type CommandType string

const (
	CommandJoinSession   CommandType = "join_session"
	CommandStartGame     CommandType = "start_game"
	CommandSubmitAthlete CommandType = "submit_athlete"
	CommandPauseGame     CommandType = "pause_game"
	CommandResumeGame    CommandType = "resume_game"
	CommandEndGameEarly  CommandType = "end_game_early"
	CommandRemovePlayer  CommandType = "remove_player"
)

// Command is the inbound envelope. Payload stays raw until the type-specific
// handler decodes it.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JoinSessionPayload struct {
	Code     string `json:"code"`
	Username string `json:"username"`
}

type SubmitAthletePayload struct {
	Name  string `json:"athlete_name"`
	Sport string `json:"sport"`
	Hint  string `json:"hint"`
}

type RemovePlayerPayload struct {
	TargetUsername string `json:"target_username"`
}

// actorClaim is the username echo carried by every state-mutating command.
// When present it must match the connection's bound identity.
type actorClaim struct {
	Username string `json:"username"`
}

func parseCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("malformed command: %w", err)
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("command missing type")
	}
	return &cmd, nil
}

const maxUsernameLen = 32

// validateUsername trims and bounds a client-chosen username.
func validateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("username is required")
	}
	if utf8.RuneCountInString(username) > maxUsernameLen {
		return "", fmt.Errorf("username too long (max %d characters)", maxUsernameLen)
	}
	return username, nil
}

// normalizeCode uppercases a session code so joins are case-insensitive.
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
