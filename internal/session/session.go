// internal/session/session.go
//
// In-memory sessions for one serving context.
//
// Context
//   Each serving context owns a Store.  Sessions are tracked by a cookie
//   named “whiteboard_session” whose value is a random UUID; attribute
//   values never leave the process.  Creating, invalidating, and changing a
//   session notify the listeners of the serving context's current run:
//   SessionListener sees creation and destruction, and
//   SessionAttributeListener sees attribute changes.  Attribute listeners
//   registered through the listener registry are already wrapped, so
//   names under the reserved prefix never reach them.
//
// Workflow
//   - Load returns the request's session, creating it and setting the
//     cookie when the cookie is missing or unknown.
//   - End invalidates the session and clears the cookie.
//   - Close invalidates every session; the serving context calls it on
//     stop, before its lifecycle listeners are destroyed.
//
// Style
//   Creation events go out in listener order, destruction events in
//   reverse order.  Two-space sentence spacing, Oxford comma, terse inline
//   notes.
//
//------------------------------------------------------------------------------

package session

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/listener"
)

const (
	CookieName = "whiteboard_session"
	DefaultTTL = 14 * 24 * time.Hour
)

// Store is safe for concurrent use.
type Store struct {
	source func() []any
	log    *zap.Logger
	ttl    time.Duration
	path   string

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Store.
type Option func(*Store)

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// WithTTL sets the cookie lifetime.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// WithCookiePath scopes the cookie to a context path.  Defaults to "/".
func WithCookiePath(p string) Option { return func(s *Store) { s.path = p } }

// NewStore returns an empty Store.  source yields the listeners to
// notify; it may return nil while the serving context is stopped.
func NewStore(source func() []any, opts ...Option) *Store {
	s := &Store{
		source:   source,
		log:      zap.L(),
		ttl:      DefaultTTL,
		path:     "/",
		sessions: map[string]*Session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) listeners() []any {
	if s.source == nil {
		return nil
	}
	return s.source()
}

// Create starts a new session.
func (s *Store) Create() *Session {
	ss := &Session{id: uuid.NewString(), store: s, attrs: map[string]any{}}
	s.mu.Lock()
	s.sessions[ss.id] = ss
	s.mu.Unlock()

	ev := listener.SessionEvent{SessionID: ss.id}
	for _, l := range s.listeners() {
		if sl, ok := l.(listener.SessionListener); ok {
			sl.SessionCreated(ev)
		}
	}
	s.log.Debug("session created", zap.String("session", ss.id))
	return ss
}

// Get returns the session with id, or nil.
func (s *Store) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

// Len reports how many sessions are live.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Invalidate ends the session with id.  It returns false when no such
// session exists.
func (s *Store) Invalidate(id string) bool {
	s.mu.Lock()
	ss, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	destroyed(s.listeners(), ss)
	return true
}

// Close invalidates every session, notifying seq.  It returns the number
// of sessions ended.
func (s *Store) Close(seq []any) int {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, ss := range s.sessions {
		all = append(all, ss)
	}
	clear(s.sessions)
	s.mu.Unlock()

	for _, ss := range all {
		destroyed(seq, ss)
	}
	return len(all)
}

func destroyed(seq []any, ss *Session) {
	ss.mu.Lock()
	ss.invalid = true
	ss.mu.Unlock()

	ev := listener.SessionEvent{SessionID: ss.id}
	for i := len(seq) - 1; i >= 0; i-- {
		if sl, ok := seq[i].(listener.SessionListener); ok {
			sl.SessionDestroyed(ev)
		}
	}
}

/*──────────────────────────── HTTP helpers ────────────────────────────────*/

// Load returns the session named by the request cookie.  A missing or
// unknown cookie starts a new session and sets the cookie.
func (s *Store) Load(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if ss := s.Get(c.Value); ss != nil {
			return ss
		}
	}
	ss := s.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    ss.id,
		Path:     s.path,
		HttpOnly: true,
		Secure:   r.TLS != nil, // only send over HTTPS
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.ttl),
	})
	return ss
}

// End invalidates the request's session and clears the cookie.
func (s *Store) End(w http.ResponseWriter, r *http.Request) bool {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     s.path,
		MaxAge:   -1,
		HttpOnly: true,
	})
	return s.Invalidate(c.Value)
}

type ctxKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the Store carried by ctx, or nil.
func FromContext(ctx context.Context) *Store {
	s, _ := ctx.Value(ctxKey{}).(*Store)
	return s
}

/*──────────────────────────── Session ─────────────────────────────────────*/

// Session holds attributes for one client.
type Session struct {
	id    string
	store *Store

	mu      sync.Mutex
	attrs   map[string]any
	invalid bool
}

// ID returns the session id.
func (ss *Session) ID() string { return ss.id }

// Valid reports whether the session has not been invalidated.
func (ss *Session) Valid() bool {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return !ss.invalid
}

// Attribute returns the value stored under name, or nil.
func (ss *Session) Attribute(name string) any {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.attrs[name]
}

// Names returns the attribute names in lexical order.
func (ss *Session) Names() []string {
	ss.mu.Lock()
	names := make([]string, 0, len(ss.attrs))
	for n := range ss.attrs {
		names = append(names, n)
	}
	ss.mu.Unlock()
	slices.Sort(names)
	return names
}

// SetAttribute stores v under name.  A nil v removes the attribute.  A
// replacement event carries the previous value.  Changes to an
// invalidated session are ignored.
func (ss *Session) SetAttribute(name string, v any) {
	if v == nil {
		ss.RemoveAttribute(name)
		return
	}
	ss.mu.Lock()
	if ss.invalid {
		ss.mu.Unlock()
		return
	}
	old, replaced := ss.attrs[name]
	ss.attrs[name] = v
	ss.mu.Unlock()

	for _, l := range ss.store.listeners() {
		al, ok := l.(listener.SessionAttributeListener)
		if !ok {
			continue
		}
		if replaced {
			al.AttributeReplaced(listener.SessionBindingEvent{SessionID: ss.id, Name: name, Value: old})
		} else {
			al.AttributeAdded(listener.SessionBindingEvent{SessionID: ss.id, Name: name, Value: v})
		}
	}
}

// RemoveAttribute deletes name.
func (ss *Session) RemoveAttribute(name string) {
	ss.mu.Lock()
	old, ok := ss.attrs[name]
	delete(ss.attrs, name)
	ss.mu.Unlock()
	if !ok {
		return
	}

	ev := listener.SessionBindingEvent{SessionID: ss.id, Name: name, Value: old}
	for _, l := range ss.store.listeners() {
		if al, ok := l.(listener.SessionAttributeListener); ok {
			al.AttributeRemoved(ev)
		}
	}
}
