package shopping

import (
	"sync"

	"github.com/zombor/flashka/internal/ledger"
)

// session owns one ledger. mu serialises every request touching it.
type session struct {
	mu     sync.Mutex
	ledger *ledger.Ledger
	// dropped is set under mu once the registry has forgotten the session
	dropped bool
}

// sessionRegistry hands out sessions by id. Ledgers are restored lazily by the Service.
type sessionRegistry struct {
	mu   sync.Mutex
	byID map[string]*session
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{byID: make(map[string]*session)}
}

func (r *sessionRegistry) get(id string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		s = &session{}
		r.byID[id] = s
	}
	return s
}

// drop forgets a session that turned out not to exist. The caller holds sess.mu.
func (r *sessionRegistry) drop(id string, sess *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess.dropped = true
	if r.byID[id] == sess {
		delete(r.byID, id)
	}
}

// lock returns the session for id with its mutex held, skipping sessions
// that were dropped while waiting for the lock
func (r *sessionRegistry) lock(id string) *session {
	for {
		sess := r.get(id)
		sess.mu.Lock()
		if !sess.dropped {
			return sess
		}
		sess.mu.Unlock()
	}
}
