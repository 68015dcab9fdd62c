package game

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/models"
	"github.com/athleterace/backend/internal/resolver"
)

// Submit runs a submission through the full pipeline: sanitize, resolve the
// name to an identity, dedup against accepted identities, then accept and
// broadcast. The external resolution happens outside the session lock; the
// session's state is re-validated once the lock is reacquired, so a pause or
// expiry during the round-trip rejects the in-flight submission.
//
// Errors are typed: RequiresHintError asks the sender for a disambiguation
// hint, ErrDuplicate/ErrValidation/ErrInvalidState are terminal for this
// attempt.
func (s *Session) Submit(ctx context.Context, username, rawName, sportQID, hint string) error {
	name, err := SanitizeAthleteName(rawName)
	if err != nil {
		return err
	}
	if !s.catalog.IsValid(sportQID) {
		return validationf("Unknown sport")
	}
	hint = strings.TrimSpace(hint)

	// Phase 1: admission checks under the lock.
	s.mu.Lock()
	if err := s.admitLocked(username, name, sportQID, hint); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	// Phase 2: resolve outside the lock. Slow lookups must not stall the
	// rest of the session.
	rctx, cancel := context.WithTimeout(ctx, s.opts.ResolverTimeout)
	res, resolveErr := s.resolver.Resolve(rctx, name, sportQID, hint)
	cancel()

	// Phase 3: re-validate and apply.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != models.SessionStatusActive || s.paused {
		return invalidStatef("Game is not active")
	}
	if p, ok := s.participants[username]; !ok || p.Removed {
		return notAuthorizedf("You are not in this session")
	}

	now := s.clock.Now()

	if resolveErr != nil {
		// Resolver outage: accept provisionally rather than punish the
		// player for infrastructure failure.
		log.Warn().
			Err(resolveErr).
			Str("session_code", s.code).
			Str("name", name).
			Msg("resolver failed, accepting submission provisionally")
		delete(s.pending, username)
		s.acceptLocked(username, name, name, "", sportQID, hint, false, now)
		return nil
	}

	switch {
	case res.Match != nil:
		if s.acceptedIDs[res.Match.ID] {
			// Keep any pending disambiguation: a duplicate verdict is not
			// a new ambiguity.
			s.rejectLocked(name, sportQID, username, "duplicate")
			return duplicatef("%s has already been submitted", res.Match.CanonicalName)
		}
		delete(s.pending, username)
		s.acceptLocked(username, name, res.Match.CanonicalName, res.Match.ID, sportQID, hint, true, now)
		return nil

	case res.Ambiguous():
		fresh := s.filterCandidatesLocked(res.Candidates)
		if len(fresh) == 0 {
			delete(s.pending, username)
			s.rejectLocked(name, sportQID, username, "duplicate")
			return duplicatef("All matches for %q have already been submitted", name)
		}
		s.pending[username] = pendingDisambiguation{name: resolver.NormalizeName(name), sport: sportQID}
		if len(fresh) < len(res.Candidates) {
			return &RequiresHintError{Message: fmt.Sprintf(
				"Multiple athletes named %q found (some already submitted). Add a hint, e.g. team, country or discipline.", name)}
		}
		return &RequiresHintError{Message: fmt.Sprintf(
			"Multiple athletes named %q found. Add a hint, e.g. team, country or discipline.", name)}

	default:
		// Unknown to the resolver: accept provisionally, flagged for later
		// review rather than discarded.
		delete(s.pending, username)
		s.acceptLocked(username, name, name, "", sportQID, hint, false, now)
		return nil
	}
}

// admitLocked performs the cheap pre-resolution checks: session status,
// membership, and the pending-disambiguation protocol. A fresh submission
// for a different name clears the sender's pending entry.
func (s *Session) admitLocked(username, name, sportQID, hint string) error {
	if s.status != models.SessionStatusActive {
		return invalidStatef("Game is not active")
	}
	if s.paused {
		return invalidStatef("Game is paused")
	}
	p, ok := s.participants[username]
	if !ok || p.Removed {
		return notAuthorizedf("You are not in this session")
	}

	if pd, ok := s.pending[username]; ok {
		same := pd.name == resolver.NormalizeName(name) && pd.sport == sportQID
		if same && hint == "" {
			return &RequiresHintError{Message: fmt.Sprintf(
				"Still need a hint to tell apart the athletes named %q.", name)}
		}
		if !same {
			// Moving on to another athlete abandons the pending one.
			delete(s.pending, username)
		}
	}
	return nil
}

// acceptLocked appends an accepted submission and broadcasts the add plus
// the refreshed leaderboard. When the new count reaches the goal the game
// keeps running; the recap reports goal_reached.
func (s *Session) acceptLocked(username, rawName, canonicalName, entityID, sportQID, hint string, validated bool, now time.Time) {
	sub := models.Submission{
		ID:            uuid.New().String(),
		Name:          canonicalName,
		RawName:       rawName,
		CanonicalName: canonicalName,
		EntityID:      entityID,
		Sport:         sportQID,
		SportLabel:    s.catalog.Label(sportQID),
		SubmittedBy:   username,
		SubmittedAt:   now,
		Validated:     validated,
		Hint:          hint,
	}
	s.submissions = append(s.submissions, sub)
	if entityID != "" {
		s.acceptedIDs[entityID] = true
	}

	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventAthleteAdded, now, AthleteAddedPayload{
			Athlete: sub,
			Count:   len(s.submissions),
		}))
	s.broadcaster.BroadcastToSession(s.code,
		newEvent(EventLeaderboardUpdate, now, LeaderboardUpdatePayload{
			Leaderboard: s.leaderboardLocked(),
		}))

	log.Info().
		Str("session_code", s.code).
		Str("athlete", canonicalName).
		Str("entity_id", entityID).
		Str("username", username).
		Bool("validated", validated).
		Int("count", len(s.submissions)).
		Msg("athlete accepted")
}

// filterCandidatesLocked drops candidate identities that were already
// accepted, so a hint round never steers the player toward a duplicate.
func (s *Session) filterCandidatesLocked(candidates []string) []string {
	fresh := candidates[:0:0]
	for _, id := range candidates {
		if !s.acceptedIDs[id] {
			fresh = append(fresh, id)
		}
	}
	return fresh
}
