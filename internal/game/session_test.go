package game

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/athleterace/backend/internal/models"
	"github.com/athleterace/backend/internal/resolver"
)

const testSport = "Q2736" // association football

func testOptions() Options {
	return Options{
		Duration:        2 * time.Hour,
		Goal:            3,
		ReconnectGrace:  5 * time.Minute,
		ResolverTimeout: 2 * time.Second,
	}
}

func newTestSession(t *testing.T, clock clockwork.Clock, res resolver.Resolver) (*Session, *fakeBroadcaster) {
	t.Helper()
	catalog := testCatalog(t)
	broadcaster := &fakeBroadcaster{}
	if res == nil {
		res = &fakeResolver{fn: func(ctx context.Context, name, sportQID, hint string) (*resolver.Resolution, error) {
			return unknownResolution(), nil
		}}
	}
	s := newSession("ABC123", "alice", clock, broadcaster, res, catalog, testOptions())
	t.Cleanup(s.shutdown)
	return s, broadcaster
}

func startGame(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Join("conn-host", "alice"))
	require.NoError(t, s.Start("alice"))
}

func TestSessionLifecycle(t *testing.T) {
	t.Run("only host can start", func(t *testing.T) {
		s, _ := newTestSession(t, clockwork.NewFakeClock(), nil)
		require.NoError(t, s.Join("c1", "alice"))
		require.NoError(t, s.Join("c2", "bob"))

		err := s.Start("bob")
		require.ErrorIs(t, err, ErrNotAuthorized)

		require.NoError(t, s.Start("alice"))
		require.Equal(t, models.SessionStatusActive, s.Status())
	})

	t.Run("start twice is rejected", func(t *testing.T) {
		s, _ := newTestSession(t, clockwork.NewFakeClock(), nil)
		startGame(t, s)
		require.ErrorIs(t, s.Start("alice"), ErrInvalidState)
	})

	t.Run("pause requires active, resume requires paused", func(t *testing.T) {
		s, _ := newTestSession(t, clockwork.NewFakeClock(), nil)
		require.NoError(t, s.Join("c1", "alice"))
		require.ErrorIs(t, s.Pause("alice"), ErrInvalidState)

		require.NoError(t, s.Start("alice"))
		require.ErrorIs(t, s.Resume("alice"), ErrInvalidState)

		require.NoError(t, s.Pause("alice"))
		require.ErrorIs(t, s.Pause("alice"), ErrInvalidState)
		require.NoError(t, s.Resume("alice"))
	})

	t.Run("end early completes and is idempotent-safe", func(t *testing.T) {
		s, broadcaster := newTestSession(t, clockwork.NewFakeClock(), nil)
		startGame(t, s)
		require.NoError(t, s.EndEarly("alice"))
		require.Equal(t, models.SessionStatusCompleted, s.Status())
		require.Equal(t, 1, broadcaster.count(EventGameEnded))

		require.ErrorIs(t, s.EndEarly("alice"), ErrInvalidState)
		require.Equal(t, 1, broadcaster.count(EventGameEnded))
	})
}

func TestPausePreservesRemainingExactly(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s, broadcaster := newTestSession(t, fc, nil)
	startGame(t, s)

	fc.Advance(30 * time.Minute)
	require.NoError(t, s.Pause("alice"))

	paused := broadcaster.last(EventGamePaused)
	require.NotNil(t, paused)
	require.Equal(t, int((90 * time.Minute).Seconds()), paused.Data.(GamePausedPayload).TimeRemaining)

	// Wall time elapsed during the pause must not eat into the game.
	fc.Advance(45 * time.Minute)
	require.NoError(t, s.Resume("alice"))

	resumed := broadcaster.last(EventGameResumed)
	require.NotNil(t, resumed)
	require.Equal(t, fc.Now().Add(90*time.Minute), resumed.Data.(GameResumedPayload).EndsAt)
}

func TestTimerTicksAndExpiry(t *testing.T) {
	fc := clockwork.NewFakeClock()
	res := &fakeResolver{fn: func(ctx context.Context, name, sportQID, hint string) (*resolver.Resolution, error) {
		return matchResolution("Q615", "Lionel Messi"), nil
	}}

	catalog := testCatalog(t)
	broadcaster := &fakeBroadcaster{}
	opts := testOptions()
	opts.Duration = 3 * time.Second
	s := newSession("ABC123", "alice", fc, broadcaster, res, catalog, opts)
	t.Cleanup(s.shutdown)

	require.NoError(t, s.Join("c1", "alice"))
	require.NoError(t, s.Start("alice"))
	fc.BlockUntil(1) // countdown ticker armed

	fc.Advance(time.Second)
	require.Eventually(t, func() bool {
		tick := broadcaster.last(EventTimerTick)
		return tick != nil && tick.Data.(TimerTickPayload).Remaining == 2
	}, time.Second, 5*time.Millisecond)

	fc.Advance(time.Second)
	require.Eventually(t, func() bool {
		tick := broadcaster.last(EventTimerTick)
		return tick != nil && tick.Data.(TimerTickPayload).Remaining == 1
	}, time.Second, 5*time.Millisecond)

	fc.Advance(time.Second)
	require.Eventually(t, func() bool {
		return s.Status() == models.SessionStatusCompleted
	}, time.Second, 5*time.Millisecond)

	ended := broadcaster.last(EventGameEnded)
	require.NotNil(t, ended)
	payload := ended.Data.(GameEndedPayload)
	require.Equal(t, 0, payload.FinalCount)
	require.False(t, payload.GoalReached)
}

func TestReconnectWithinGrace(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s, broadcaster := newTestSession(t, fc, nil)
	require.NoError(t, s.Join("c1", "alice"))
	require.NoError(t, s.Join("c2", "bob"))
	require.NoError(t, s.Start("alice"))

	s.Disconnect("c2")
	left := broadcaster.last(EventUserLeft)
	require.NotNil(t, left)
	require.Equal(t, "bob", left.Data.(UserLeftPayload).Username)

	fc.Advance(2 * time.Minute)
	require.NoError(t, s.Join("c3", "bob"))

	joined := broadcaster.last(EventSessionJoined)
	require.NotNil(t, joined)
	snapshot := joined.Data.(SessionJoinedPayload)
	require.True(t, snapshot.Reconnected)
	require.Equal(t, models.SessionStatusActive, snapshot.Status)
	require.Equal(t, "alice", snapshot.HostUsername)
	require.False(t, snapshot.IsHost)
}

func TestRejoinAfterGraceIsFreshJoin(t *testing.T) {
	fc := clockwork.NewFakeClock()
	s, broadcaster := newTestSession(t, fc, nil)
	require.NoError(t, s.Join("c1", "alice"))
	require.NoError(t, s.Join("c2", "bob"))

	s.Disconnect("c2")
	fc.Advance(6 * time.Minute)
	require.NoError(t, s.Join("c3", "bob"))

	joined := broadcaster.last(EventSessionJoined)
	require.False(t, joined.Data.(SessionJoinedPayload).Reconnected)
}

func TestSecondTabSharesIdentity(t *testing.T) {
	s, _ := newTestSession(t, clockwork.NewFakeClock(), nil)
	require.NoError(t, s.Join("tab1", "alice"))
	require.NoError(t, s.Join("tab2", "alice"))
	require.Equal(t, 2, s.ConnectedCount())

	// Closing one tab must not announce a departure.
	s.Disconnect("tab1")
	require.Equal(t, 1, s.ConnectedCount())

	s.mu.Lock()
	connected := s.participants["alice"].Connected
	s.mu.Unlock()
	require.True(t, connected)
}

func TestRemovePlayer(t *testing.T) {
	t.Run("removed player cannot rejoin", func(t *testing.T) {
		s, broadcaster := newTestSession(t, clockwork.NewFakeClock(), nil)
		require.NoError(t, s.Join("c1", "alice"))
		require.NoError(t, s.Join("c2", "bob"))

		conns, err := s.RemovePlayer("alice", "bob")
		require.NoError(t, err)
		require.Equal(t, []string{"c2"}, conns)

		require.ErrorIs(t, s.Join("c3", "bob"), ErrNotAuthorized)

		// Target got the direct notice, everyone else the roster update.
		removed := broadcaster.byType(EventPlayerRemoved)
		require.Len(t, removed, 1)
		require.Equal(t, "bob", removed[0].target)
		require.Equal(t, 1, broadcaster.count(EventUserRemoved))
	})

	t.Run("host cannot remove self", func(t *testing.T) {
		s, _ := newTestSession(t, clockwork.NewFakeClock(), nil)
		require.NoError(t, s.Join("c1", "alice"))
		_, err := s.RemovePlayer("alice", "alice")
		require.ErrorIs(t, err, ErrValidation)
	})

	t.Run("non-host cannot remove", func(t *testing.T) {
		s, _ := newTestSession(t, clockwork.NewFakeClock(), nil)
		require.NoError(t, s.Join("c1", "alice"))
		require.NoError(t, s.Join("c2", "bob"))
		_, err := s.RemovePlayer("bob", "alice")
		require.ErrorIs(t, err, ErrNotAuthorized)
	})
}

func TestUserListHostFirst(t *testing.T) {
	s, broadcaster := newTestSession(t, clockwork.NewFakeClock(), nil)
	require.NoError(t, s.Join("c2", "zoe"))
	require.NoError(t, s.Join("c1", "alice"))
	require.NoError(t, s.Join("c3", "bob"))
	s.Disconnect("c2")

	joined := broadcaster.last(EventUserLeft)
	users := joined.Data.(UserLeftPayload).Users
	require.Equal(t, "alice", users[0].Username)
	require.True(t, users[0].IsHost)
	require.Equal(t, "bob", users[1].Username)
	require.Equal(t, "zoe", users[2].Username)
	require.False(t, users[2].IsConnected)
}

func TestCompletedSessionAllowsObserverJoin(t *testing.T) {
	s, broadcaster := newTestSession(t, clockwork.NewFakeClock(), nil)
	startGame(t, s)
	require.NoError(t, s.EndEarly("alice"))

	require.NoError(t, s.Join("late", "carol"))
	joined := broadcaster.last(EventSessionJoined)
	snapshot := joined.Data.(SessionJoinedPayload)
	require.Equal(t, models.SessionStatusCompleted, snapshot.Status)

	// Observers never enter the roster.
	for _, u := range snapshot.Users {
		require.NotEqual(t, "carol", u.Username)
	}
}

func TestObserverDisconnectIsSilent(t *testing.T) {
	s, broadcaster := newTestSession(t, clockwork.NewFakeClock(), nil)
	startGame(t, s)
	require.NoError(t, s.EndEarly("alice"))

	require.NoError(t, s.Join("late", "carol"))
	before := broadcaster.count(EventUserLeft)

	// Carol never entered the roster, so her departure is not announced.
	s.Disconnect("late")
	require.Equal(t, before, broadcaster.count(EventUserLeft))
	require.Equal(t, 0, s.ConnectedCount())
}
