package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/bindwire/devicebridge/pkg/transport"
)

// errSessionClosed is returned by register once the session's transport died.
var errSessionClosed = errors.New("session closed")

// outcome is the single resolution of one pending request: a response frame
// or a disconnect.
type outcome struct {
	msg *transport.JSONRPCMessage
	err error
}

// pendingRequest is one in-flight call. The channel has capacity one so the
// resolver never blocks on a caller that already gave up.
type pendingRequest struct {
	method    string
	createdAt time.Time
	ch        chan outcome
}

// session is the pending-request table of one attached transport. All
// bookkeeping is under one mutex scoped to this device; unrelated devices
// never contend.
type session struct {
	deviceID string
	tr       transport.Transport

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool
}

func newSession(deviceID string, tr transport.Transport) *session {
	return &session{
		deviceID: deviceID,
		tr:       tr,
		pending:  make(map[string]*pendingRequest),
	}
}

// register adds a pending entry for the given correlation key and returns
// the channel its resolution will arrive on.
func (s *session) register(key, method string) (<-chan outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errSessionClosed
	}
	req := &pendingRequest{
		method:    method,
		createdAt: time.Now(),
		ch:        make(chan outcome, 1),
	}
	s.pending[key] = req
	return req.ch, nil
}

// resolve delivers a response to the pending request with this key. Deleting
// the entry under the lock is what makes resolution exactly-once: only the
// party that removed the entry may write to the channel. Returns false for a
// stale or unknown id.
func (s *session) resolve(key string, msg *transport.JSONRPCMessage) bool {
	s.mu.Lock()
	req, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	req.ch <- outcome{msg: msg}
	return true
}

// remove withdraws a pending request, typically on timeout. Returns false if
// the entry was already resolved, meaning the caller lost the race and a
// value is waiting on its channel.
func (s *session) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[key]; !ok {
		return false
	}
	delete(s.pending, key)
	return true
}

// fail resolves every pending request with the given error and refuses new
// registrations. Called exactly once, by the read loop on its way out.
func (s *session) fail(err error) {
	s.mu.Lock()
	s.closed = true
	drained := s.pending
	s.pending = make(map[string]*pendingRequest)
	s.mu.Unlock()

	for _, req := range drained {
		req.ch <- outcome{err: err}
	}
}

// sessionTable maps live transports to their sessions.
type sessionTable struct {
	mu sync.RWMutex
	m  map[transport.Transport]*session
}

func newSessionTable() *sessionTable {
	return &sessionTable{m: make(map[transport.Transport]*session)}
}

func (t *sessionTable) put(tr transport.Transport, s *session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[tr] = s
}

func (t *sessionTable) get(tr transport.Transport) (*session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.m[tr]
	return s, ok
}

func (t *sessionTable) drop(tr transport.Transport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, tr)
}
