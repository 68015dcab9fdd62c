package game

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for session operations. Handlers translate these into
// events for the originating connection; none of them is fatal to the
// session itself.
var (
	// ErrNotFound means the session code does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNotAuthorized means a non-host attempted a host-only action, or a
	// removed user tried to rejoin.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrInvalidState means the action is not valid in the session's
	// current status. Terminal for the request; clients must not retry.
	ErrInvalidState = errors.New("invalid session state")
	// ErrDuplicate means the resolved identity was already accepted.
	ErrDuplicate = errors.New("duplicate athlete")
	// ErrValidation means the input itself was malformed.
	ErrValidation = errors.New("validation failed")
)

// RequiresHintError reports an ambiguous resolution. Recoverable: the
// client is expected to resubmit the same name with a disambiguation hint.
type RequiresHintError struct {
	Message string
}

func (e *RequiresHintError) Error() string {
	return e.Message
}

// RequiresHint reports whether err asks the user for a disambiguation hint.
func RequiresHint(err error) bool {
	var rh *RequiresHintError
	return errors.As(err, &rh)
}

func notAuthorizedf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotAuthorized)
}

func invalidStatef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidState)
}

func duplicatef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrDuplicate)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrValidation)
}

// UserMessage extracts the human-readable part of a taxonomy error, i.e.
// everything before the wrapped sentinel suffix.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, sentinel := range []error{ErrNotFound, ErrNotAuthorized, ErrInvalidState, ErrDuplicate, ErrValidation} {
		if cut, ok := strings.CutSuffix(msg, ": "+sentinel.Error()); ok {
			return cut
		}
	}
	return msg
}
