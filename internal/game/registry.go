package game

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/athleterace/backend/internal/resolver"
	"github.com/athleterace/backend/internal/sports"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6

	janitorInterval = time.Minute
)

// Registry owns the live sessions, hands out join codes and reaps finished
// sessions nobody is attached to anymore.
type Registry struct {
	clock       clockwork.Clock
	broadcaster Broadcaster
	resolver    resolver.Resolver
	catalog     *sports.Catalog
	opts        Options
	retention   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry builds a registry and starts its janitor goroutine. Close the
// registry to stop it.
func NewRegistry(clock clockwork.Clock, broadcaster Broadcaster, res resolver.Resolver, catalog *sports.Catalog, opts Options, retention time.Duration) *Registry {
	r := &Registry{
		clock:       clock,
		broadcaster: broadcaster,
		resolver:    res,
		catalog:     catalog,
		opts:        opts,
		retention:   retention,
		sessions:    make(map[string]*Session),
		stop:        make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Create makes a new session in the waiting state, hosted by hostUsername,
// and returns it. The generated code is unique among live sessions.
func (r *Registry) Create(hostUsername string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.uniqueCodeLocked()
	if err != nil {
		return nil, err
	}
	s := newSession(code, hostUsername, r.clock, r.broadcaster, r.resolver, r.catalog, r.opts)
	r.sessions[code] = s

	log.Info().
		Str("session_code", code).
		Str("host", hostUsername).
		Msg("session created")
	return s, nil
}

// Get looks up a session by code.
func (r *Registry) Get(code string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[code]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops a session immediately, stopping its countdown.
func (r *Registry) Remove(code string) {
	r.mu.Lock()
	s, ok := r.sessions[code]
	delete(r.sessions, code)
	r.mu.Unlock()
	if ok {
		s.shutdown()
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close stops the janitor and shuts down every session's countdown.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
}

func (r *Registry) janitor() {
	ticker := r.clock.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.Chan():
			r.sweep()
		}
	}
}

// sweep removes completed sessions past retention with no connections left.
func (r *Registry) sweep() {
	r.mu.RLock()
	var stale []string
	for code, s := range r.sessions {
		if s.removable(r.retention) {
			stale = append(stale, code)
		}
	}
	r.mu.RUnlock()

	for _, code := range stale {
		r.Remove(code)
		log.Info().Str("session_code", code).Msg("session reaped")
	}
}

// uniqueCodeLocked generates a join code not currently in use. Collisions
// are vanishingly rare at this keyspace but retried anyway.
func (r *Registry) uniqueCodeLocked() (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		code, err := generateCode()
		if err != nil {
			return "", err
		}
		if _, taken := r.sessions[code]; !taken {
			return code, nil
		}
	}
	return "", validationf("could not allocate a session code")
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
