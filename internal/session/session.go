package session

import (
	"sort"
	"time"

	"github.com/rmacdonaldsmith/topicrelay/internal/connset"
	"github.com/rmacdonaldsmith/topicrelay/pkg/topic"
)

// Session is the registry entry for one identity. It survives disconnects together with its
// subscriptions and is only dropped when the registry is closed.
type Session struct {
	identity string
	conn     connset.Handle
	live     bool
	remote   string

	patterns map[string]topic.Pattern

	createdAt      time.Time
	connectedAt    time.Time
	disconnectedAt time.Time
}

func newSession(identity string, now time.Time) *Session {
	return &Session{
		identity:  identity,
		patterns:  make(map[string]topic.Pattern),
		createdAt: now,
	}
}

// Identity returns the durable client identity.
func (s *Session) Identity() string {
	return s.identity
}

// Conn returns the bound connection while the session is live.
func (s *Session) Conn() (connset.Handle, bool) {
	return s.conn, s.live
}

// IsLive reports whether a connection is currently bound.
func (s *Session) IsLive() bool {
	return s.live
}

// Remote returns the address of the most recent connection.
func (s *Session) Remote() string {
	return s.remote
}

// IsSubscribed reports whether raw was subscribed verbatim.
func (s *Session) IsSubscribed(raw string) bool {
	_, ok := s.patterns[raw]
	return ok
}

// Subscriptions returns the subscribed patterns, sorted.
func (s *Session) Subscriptions() []string {
	out := make([]string, 0, len(s.patterns))
	for raw := range s.patterns {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}

// Matches reports whether a published topic reaches this session: a verbatim subscription first,
// then every pattern through the wildcard matcher.
func (s *Session) Matches(name string, tokens []string) bool {
	if _, ok := s.patterns[name]; ok {
		return true
	}
	for _, p := range s.patterns {
		if p.Matches(name, tokens) {
			return true
		}
	}
	return false
}

// Info is a point-in-time copy of a session, safe to hand to other goroutines.
type Info struct {
	Identity       string    `json:"identity"`
	Live           bool      `json:"live"`
	Conn           string    `json:"conn,omitempty"`
	Remote         string    `json:"remote,omitempty"`
	Subscriptions  []string  `json:"subscriptions"`
	CreatedAt      time.Time `json:"createdAt"`
	ConnectedAt    time.Time `json:"connectedAt"`
	DisconnectedAt time.Time `json:"disconnectedAt,omitempty"`
}

func (s *Session) info() Info {
	i := Info{
		Identity:       s.identity,
		Live:           s.live,
		Remote:         s.remote,
		Subscriptions:  s.Subscriptions(),
		CreatedAt:      s.createdAt,
		ConnectedAt:    s.connectedAt,
		DisconnectedAt: s.disconnectedAt,
	}
	if s.live {
		i.Conn = s.conn.String()
	}
	return i
}
