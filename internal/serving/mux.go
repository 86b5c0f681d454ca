// internal/serving/mux.go
//
// chi-backed element sink.
//
// Context
// -------
// Mux is the request router servlets and filters end up in.  Each context
// path gets its own chi sub-router mounted at that path.  Servlets become
// routes.  Filters wrap each servlet handler, and the guard wraps the
// result, so the security check runs before any filter and filters see
// the bound context instance.  Requests that reach no servlet pass no
// filter.
//
// chi cannot unmount routes, so every change rebuilds the whole tree and
// swaps it in atomically.  Requests in flight finish on the tree they
// started with.
//
// Notes
// -----
//   - A servlet whose patterns chi cannot route is refused with
//     ErrInvalidPattern, and the routes already installed stay as they were.
//   - Elements are ordered by priority (highest first), then registration
//     id.  When two servlets claim the same pattern the first one keeps it
//     and the other is skipped with a warning.
//   - Filter patterns are matched against the path below the context
//     mount.  "/*" and an empty pattern list match everything, "/x/*"
//     matches "/x" and everything under it, and other patterns use
//     path.Match.
//   - Oxford commas, two spaces after periods.
package serving

import (
	"cmp"
	"fmt"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/ranking"
)

// Guard wraps the handler of a servlet mounted under contextPath before it
// is routed.
type Guard func(contextPath string, s *model.ServletModel, h http.Handler) http.Handler

// Mux is safe for concurrent use.
type Mux struct {
	log   *zap.Logger
	guard Guard

	mu       sync.Mutex
	servlets map[string][]*model.ServletModel
	filters  map[string][]*model.FilterModel

	router atomic.Pointer[chi.Mux]
}

var _ ElementSink = (*Mux)(nil)

// MuxOption configures a Mux.
type MuxOption func(*Mux)

// WithGuard wraps every servlet handler with g.
func WithGuard(g Guard) MuxOption { return func(m *Mux) { m.guard = g } }

// NewMux returns an empty Mux.  A nil logger selects the global one.
func NewMux(log *zap.Logger, opts ...MuxOption) *Mux {
	if log == nil {
		log = zap.L()
	}
	m := &Mux{
		log:      log,
		servlets: map[string][]*model.ServletModel{},
		filters:  map[string][]*model.FilterModel{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.router.Store(chi.NewRouter())
	return m
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.router.Load().ServeHTTP(w, r)
}

// AddServlet installs s under contextPath.
func (m *Mux) AddServlet(contextPath string, s *model.ServletModel) error {
	if s == nil || s.Handler == nil {
		return ErrNoHandler
	}
	for _, p := range s.Patterns {
		if err := checkPattern(p); err != nil {
			return fmt.Errorf("servlet %q: %w", s.Name, err)
		}
	}
	contextPath = model.NormalizePath(contextPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.servlets[contextPath], func(o *model.ServletModel) bool { return o.Name == s.Name }) {
		return fmt.Errorf("%w: servlet %q at %s", ErrDuplicateElement, s.Name, contextPath)
	}
	m.servlets[contextPath] = append(m.servlets[contextPath], s)
	if err := m.rebuild(); err != nil {
		m.servlets[contextPath] = m.servlets[contextPath][:len(m.servlets[contextPath])-1]
		return fmt.Errorf("servlet %q at %s: %w", s.Name, contextPath, err)
	}
	return nil
}

// RemoveServlet uninstalls the servlet named like s.
func (m *Mux) RemoveServlet(contextPath string, s *model.ServletModel) bool {
	contextPath = model.NormalizePath(contextPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.servlets[contextPath]
	i := slices.IndexFunc(list, func(o *model.ServletModel) bool { return o.Name == s.Name })
	if i < 0 {
		return false
	}
	m.servlets[contextPath] = slices.Delete(list, i, i+1)
	m.rebuildOrWarn()
	return true
}

// AddFilter installs f under contextPath.
func (m *Mux) AddFilter(contextPath string, f *model.FilterModel) error {
	if f == nil || f.Middleware == nil {
		return ErrNoMiddleware
	}
	contextPath = model.NormalizePath(contextPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.filters[contextPath], func(o *model.FilterModel) bool { return o.Name == f.Name }) {
		return fmt.Errorf("%w: filter %q at %s", ErrDuplicateElement, f.Name, contextPath)
	}
	m.filters[contextPath] = append(m.filters[contextPath], f)
	if err := m.rebuild(); err != nil {
		m.filters[contextPath] = m.filters[contextPath][:len(m.filters[contextPath])-1]
		return fmt.Errorf("filter %q at %s: %w", f.Name, contextPath, err)
	}
	return nil
}

// RemoveFilter uninstalls the filter named like f.
func (m *Mux) RemoveFilter(contextPath string, f *model.FilterModel) bool {
	contextPath = model.NormalizePath(contextPath)

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.filters[contextPath]
	i := slices.IndexFunc(list, func(o *model.FilterModel) bool { return o.Name == f.Name })
	if i < 0 {
		return false
	}
	m.filters[contextPath] = slices.Delete(list, i, i+1)
	m.rebuildOrWarn()
	return true
}

// Routes lists servlet patterns per context path in rank order.
func (m *Mux) Routes() map[string][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string][]string{}
	for p, list := range m.servlets {
		for _, s := range byRank(list) {
			out[p] = append(out[p], s.Patterns...)
		}
	}
	return out
}

// rebuild swaps in a fresh router.  chi panics on malformed patterns, so
// the tree is built aside and the live router is only replaced once the
// build succeeds.  Caller holds mu.
func (m *Mux) rebuild() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrRouteBuild, r)
		}
	}()

	paths := map[string]struct{}{}
	for p, l := range m.servlets {
		if len(l) > 0 {
			paths[p] = struct{}{}
		}
	}
	for p, l := range m.filters {
		if len(l) > 0 {
			paths[p] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	slices.SortFunc(ordered, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	root := chi.NewRouter()
	for _, p := range ordered {
		root.Mount(p, m.subRouter(p))
	}
	m.router.Store(root)
	return nil
}

// rebuildOrWarn rebuilds after a removal.  Removals only shrink a tree
// that already built, so a failure keeps the previous router.
func (m *Mux) rebuildOrWarn() {
	if err := m.rebuild(); err != nil {
		m.log.Warn("router rebuild failed, keeping previous routes", zap.Error(err))
	}
}

func (m *Mux) subRouter(contextPath string) chi.Router {
	sub := chi.NewRouter()
	filters := byRank(m.filters[contextPath])

	claimed := map[string]string{}
	for _, s := range byRank(m.servlets[contextPath]) {
		h := chain(contextPath, filters, s.Handler)
		if m.guard != nil {
			h = m.guard(contextPath, s, h)
		}
		for _, p := range s.Patterns {
			if owner, taken := claimed[p]; taken {
				m.log.Warn("servlet pattern already claimed",
					zap.String("context", contextPath), zap.String("pattern", p),
					zap.String("servlet", s.Name), zap.String("owner", owner))
				continue
			}
			claimed[p] = s.Name
			sub.Handle(p, h)
		}
	}
	return sub
}

// checkPattern rejects patterns chi would refuse to route.
func checkPattern(p string) (err error) {
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q does not start with '/'", ErrInvalidPattern, p)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, r)
		}
	}()
	chi.NewRouter().Handle(p, http.NotFoundHandler())
	return nil
}

// chain wraps h in fs, first filter outermost.
func chain(contextPath string, fs []*model.FilterModel, h http.Handler) http.Handler {
	for i := len(fs) - 1; i >= 0; i-- {
		h = scoped(contextPath, fs[i])(h)
	}
	return h
}

// scoped limits f to requests matching its patterns.
func scoped(contextPath string, f *model.FilterModel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := f.Middleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rel := r.URL.Path
			if contextPath != "/" {
				rel = strings.TrimPrefix(rel, contextPath)
			}
			if rel == "" {
				rel = "/"
			}
			if filterMatches(f.Patterns, rel) {
				wrapped.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func filterMatches(patterns []string, rel string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		switch {
		case p == "/*":
			return true
		case strings.HasSuffix(p, "/*"):
			if ranking.MatchesPath(strings.TrimSuffix(p, "/*"), rel) {
				return true
			}
		default:
			if ok, _ := path.Match(p, rel); ok {
				return true
			}
		}
	}
	return false
}

type element interface {
	*model.ServletModel | *model.FilterModel
}

func byRank[E element](list []E) []E {
	out := slices.Clone(list)
	slices.SortStableFunc(out, func(a, b E) int {
		ea, eb := elementOf(a), elementOf(b)
		if c := cmp.Compare(eb.Priority, ea.Priority); c != 0 {
			return c
		}
		return cmp.Compare(ea.ID, eb.ID)
	})
	return out
}

func elementOf[E element](e E) model.Element {
	switch v := any(e).(type) {
	case *model.ServletModel:
		return v.Element
	case *model.FilterModel:
		return v.Element
	}
	return model.Element{}
}
