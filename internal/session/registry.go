// Package session maps durable client identities to connection state and subscriptions, and
// decides admission of new connections.
//
// At most one session exists per identity and at most one live connection per session. A
// reconnecting identity resumes its previous subscriptions immediately.
//
// A Registry is not safe for concurrent use. The broker loop is its only owner.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/pkg/topic"
)

// DefaultMaxIdentityLen bounds identities when no limit is configured.
const DefaultMaxIdentityLen = 10

var (
	// ErrUnknownConnection is returned when a handle is not bound to any session
	ErrUnknownConnection = errors.New("connection not bound to a session")
	// ErrConnectionBound is returned when admitting a handle that already owns a session
	ErrConnectionBound = errors.New("connection already bound to a session")
	// ErrAlreadySubscribed is returned when subscribing to a pattern held already
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed is returned when unsubscribing from a pattern not held
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrInvalidTopic is returned when a pattern fails validation
	ErrInvalidTopic = errors.New("invalid topic")
)

// Decision is the outcome of an admission request.
type Decision int

const (
	// Accepted admits a new identity.
	Accepted Decision = iota
	// Resumed admits a known identity whose previous connection is gone.
	Resumed
	// Denied rejects an identity that already has a live connection.
	Denied
	// Invalid rejects an empty or over-long identity.
	Invalid
)

// Admitted reports whether the connection was let in.
func (d Decision) Admitted() bool {
	return d == Accepted || d == Resumed
}

func (d Decision) String() string {
	switch d {
	case Accepted:
		return "Accepted"
	case Resumed:
		return "Resumed"
	case Denied:
		return "Denied"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// Request carries one admission attempt.
type Request struct {
	Identity string
	Conn     connset.Handle
	Remote   string
}

// Registry owns every session.
type Registry struct {
	byIdentity map[string]*Session
	byConn     map[connset.Handle]*Session
	order      []*Session

	maxIdentityLen int
	maxTopicLen    int
	now            func() time.Time
}

// NewRegistry creates an empty registry. Limits of zero or less fall back to
// DefaultMaxIdentityLen and topic.MaxLen.
func NewRegistry(maxIdentityLen, maxTopicLen int) *Registry {
	if maxIdentityLen <= 0 {
		maxIdentityLen = DefaultMaxIdentityLen
	}
	if maxTopicLen <= 0 {
		maxTopicLen = topic.MaxLen
	}
	return &Registry{
		byIdentity:     make(map[string]*Session),
		byConn:         make(map[connset.Handle]*Session),
		maxIdentityLen: maxIdentityLen,
		maxTopicLen:    maxTopicLen,
		now:            time.Now,
	}
}

// Admit decides whether req may bind its connection to req.Identity. ack, when non-nil, is
// called with the decision before anything is recorded; if it fails the registry is left
// unchanged and the error is returned alongside the decision.
func (r *Registry) Admit(req Request, ack func(Decision) error) (Decision, error) {
	if _, bound := r.byConn[req.Conn]; bound {
		return Denied, ErrConnectionBound
	}

	existing, known := r.byIdentity[req.Identity]
	var d Decision
	switch {
	case req.Identity == "" || len(req.Identity) > r.maxIdentityLen:
		d = Invalid
	case !known:
		d = Accepted
	case existing.live:
		d = Denied
	default:
		d = Resumed
	}

	if ack != nil {
		if err := ack(d); err != nil {
			return d, fmt.Errorf("acknowledge %s: %w", d, err)
		}
	}
	if !d.Admitted() {
		return d, nil
	}

	s := existing
	if !known {
		s = newSession(req.Identity, r.now())
		r.byIdentity[req.Identity] = s
		r.order = append(r.order, s)
	}
	s.live = true
	s.conn = req.Conn
	s.remote = req.Remote
	s.connectedAt = r.now()
	r.byConn[req.Conn] = s
	return d, nil
}

// Disconnect unbinds the session owning h. Its subscriptions are kept.
func (r *Registry) Disconnect(h connset.Handle) (*Session, bool) {
	s, ok := r.byConn[h]
	if !ok {
		return nil, false
	}
	delete(r.byConn, h)
	s.live = false
	s.conn = connset.Handle{}
	s.disconnectedAt = r.now()
	return s, true
}

// LookupByConn returns the session bound to h.
func (r *Registry) LookupByConn(h connset.Handle) (*Session, bool) {
	s, ok := r.byConn[h]
	return s, ok
}

// Lookup returns the session for identity, live or not.
func (r *Registry) Lookup(identity string) (*Session, bool) {
	s, ok := r.byIdentity[identity]
	return s, ok
}

// Subscribe adds raw to the session bound to h. The pattern is tokenized here, once.
func (r *Registry) Subscribe(h connset.Handle, raw string) error {
	s, ok := r.byConn[h]
	if !ok {
		return ErrUnknownConnection
	}
	if s.IsSubscribed(raw) {
		return fmt.Errorf("%w to %q", ErrAlreadySubscribed, raw)
	}
	p, err := topic.Compile(raw, r.maxTopicLen)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	s.patterns[raw] = p
	return nil
}

// Unsubscribe removes raw from the session bound to h.
func (r *Registry) Unsubscribe(h connset.Handle, raw string) error {
	s, ok := r.byConn[h]
	if !ok {
		return ErrUnknownConnection
	}
	if !s.IsSubscribed(raw) {
		return fmt.Errorf("%w to %q", ErrNotSubscribed, raw)
	}
	delete(s.patterns, raw)
	return nil
}

// Range calls fn for every session in creation order until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, s := range r.order {
		if !fn(s) {
			return
		}
	}
}

// Len returns the number of sessions, live or not.
func (r *Registry) Len() int {
	return len(r.order)
}

// LiveCount returns the number of sessions with a bound connection.
func (r *Registry) LiveCount() int {
	return len(r.byConn)
}

// Snapshot copies every session in creation order.
func (r *Registry) Snapshot() []Info {
	out := make([]Info, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, s.info())
	}
	return out
}

// Close drops every session.
func (r *Registry) Close() error {
	r.byIdentity = make(map[string]*Session)
	r.byConn = make(map[connset.Handle]*Session)
	r.order = nil
	return nil
}
