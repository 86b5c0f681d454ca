// internal/registry/registry.go
//
// Context model table.
//
// Context
// -------
// Tenants register context models under ids handed out by the framework.
// The registry keeps every valid model, decides which of them are active,
// and answers the path and name lookups the serving layer needs.
//
// Activity
// --------
// Models are ranked with ranking.Compare.  Among valid models that share a
// name only the first by ranking is active; the rest are shadowed and come
// back automatically when the winner is withdrawn.  Models that fail
// validation are kept aside so operators can see why they never served.
//
// Notes
// -----
//   - The process-wide default model is registered at construction unless
//     WithoutDefault is given.  Its very low priority lets any tenant
//     context at "/" take over.
//   - Winner lookups are memoized per (host, path) in an LRU that is
//     purged whenever the active list changes.
//   - Withdrawing a model runs the forget hook, which the whiteboard wires
//     to the resolver so no dereferenced instance outlives its
//     registration.
//   - Oxford commas, two spaces after periods.
package registry

import (
	"cmp"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/cache"
	"github.com/yanizio/whiteboard/internal/metrics"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/ranking"
)

// Status describes how a registered model takes part in serving.
type Status string

const (
	StatusActive   Status = "active"
	StatusShadowed Status = "shadowed"
	StatusInvalid  Status = "invalid"
)

// Entry is one row of a Snapshot.
type Entry struct {
	Model  *model.ContextModel
	Status Status
}

// DefaultCacheSize bounds the winner-lookup memo.
const DefaultCacheSize = 4096

type lookupKey struct{ host, path string }

// Registry is safe for concurrent use.
type Registry struct {
	log         *zap.Logger
	forget      func(*model.ContextModel)
	withDefault bool
	cacheSize   int
	winners     *cache.LRU[lookupKey, *model.ContextModel]

	mu       sync.RWMutex
	models   map[int64]*model.ContextModel
	rejected map[int64]*model.ContextModel
	active   []*model.ContextModel // ranked, recomputed on every change
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger overrides the global logger.
func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.log = l } }

// WithForgetHook sets the function run for every withdrawn model.
func WithForgetHook(fn func(*model.ContextModel)) Option {
	return func(r *Registry) { r.forget = fn }
}

// WithoutDefault skips registering the default model.
func WithoutDefault() Option { return func(r *Registry) { r.withDefault = false } }

// WithCacheSize bounds the winner-lookup memo.  Values below 1 keep the
// default.
func WithCacheSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// New returns a registry holding the default model.
func New(opts ...Option) *Registry {
	r := &Registry{
		log:         zap.L(),
		withDefault: true,
		cacheSize:   DefaultCacheSize,
		models:      map[int64]*model.ContextModel{},
		rejected:    map[int64]*model.ContextModel{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.winners = cache.New[lookupKey, *model.ContextModel](r.cacheSize)
	if r.withDefault {
		r.RegisterContext(model.Default())
	}
	return r
}

// RegisterContext adds m.  It returns false when m is nil, fails
// validation, or its id is already taken.
func (r *Registry) RegisterContext(m *model.ContextModel) bool {
	if m == nil {
		return false
	}
	valid := m.Validate()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.models[m.ID()]; dup {
		r.log.Warn("context id already registered", zap.Int64("id", m.ID()), zap.Stringer("model", m))
		return false
	}
	if !valid {
		r.rejected[m.ID()] = m
		metrics.ContextsInvalidTotal.Inc()
		r.log.Info("context rejected by validation", zap.Stringer("model", m))
		return false
	}
	r.models[m.ID()] = m
	r.recompute()
	r.log.Debug("context registered", zap.Stringer("model", m))
	return true
}

// UnregisterContext withdraws the model registered under id.  It reports
// whether anything was removed.
func (r *Registry) UnregisterContext(id int64) bool {
	r.mu.Lock()
	m, ok := r.models[id]
	if ok {
		delete(r.models, id)
		r.recompute()
	} else if _, bad := r.rejected[id]; bad {
		delete(r.rejected, id)
		r.mu.Unlock()
		r.log.Debug("rejected context withdrawn", zap.Int64("id", id))
		return true
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if r.forget != nil {
		r.forget(m)
	}
	r.log.Debug("context unregistered", zap.Stringer("model", m))
	return true
}

// recompute rebuilds the active list.  Caller holds mu.
func (r *Registry) recompute() {
	all := make([]*model.ContextModel, 0, len(r.models))
	for _, m := range r.models {
		all = append(all, m)
	}
	ranking.Sort(all)

	seen := make(map[string]struct{}, len(all))
	active := all[:0:0]
	for _, m := range all {
		if _, shadowed := seen[m.Name()]; shadowed {
			continue
		}
		seen[m.Name()] = struct{}{}
		active = append(active, m)
	}
	r.active = active
	r.winners.Purge()
	metrics.ContextsRegistered.Set(float64(len(r.models)))
}

// ResolveWinningContext returns the active model that serves path, or nil.
func (r *Registry) ResolveWinningContext(path string) *model.ContextModel {
	return r.ResolveFor("", path)
}

// ResolveFor is ResolveWinningContext restricted to models serving host.
// An empty host matches every model.
func (r *Registry) ResolveFor(host, path string) *model.ContextModel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Purge runs under the write lock, so a result stored here can never
	// predate the active list it was computed from.
	key := lookupKey{host, path}
	if m, ok := r.winners.Get(key); ok {
		metrics.ResolveLookupsTotal.WithLabelValues("hit").Inc()
		return m
	}
	metrics.ResolveLookupsTotal.WithLabelValues("miss").Inc()

	m := r.winner(host, path)
	r.winners.Add(key, m)
	return m
}

// winner scans the active list.  Caller holds mu.
func (r *Registry) winner(host, path string) *model.ContextModel {
	// active is ranked, so the first match is the most specific path.
	for _, m := range r.active {
		if !ranking.MatchesPath(m.Path(), path) {
			continue
		}
		if host != "" && !m.ServesHost(host) {
			continue
		}
		return m
	}
	return nil
}

// Cached reports how many winner lookups are memoized.
func (r *Registry) Cached() int { return r.winners.Len() }

// Governing returns the active model mounted exactly at path, or nil.
// That model backs the physical serving context for path.
func (r *Registry) Governing(path string) *model.ContextModel {
	path = model.NormalizePath(path)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.active {
		if m.Path() == path {
			return m
		}
	}
	return nil
}

// Lookup returns the active model named name, or nil.
func (r *Registry) Lookup(name string) *model.ContextModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.active {
		if m.Name() == name {
			return m
		}
	}
	return nil
}

// Get returns the model registered under id, valid or not.
func (r *Registry) Get(id int64) *model.ContextModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.models[id]; ok {
		return m
	}
	return r.rejected[id]
}

// Active returns the active models in ranking order.
func (r *Registry) Active() []*model.ContextModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.active)
}

// Paths returns the distinct paths of the active models, most specific
// first.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.active))
	for _, m := range r.active {
		if !slices.Contains(out, m.Path()) {
			out = append(out, m.Path())
		}
	}
	return out
}

// Snapshot lists every model with its status.  Valid models come first in
// ranking order, rejected ones follow by id.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	valid := make([]*model.ContextModel, 0, len(r.models))
	for _, m := range r.models {
		valid = append(valid, m)
	}
	ranking.Sort(valid)

	out := make([]Entry, 0, len(r.models)+len(r.rejected))
	for _, m := range valid {
		st := StatusShadowed
		if slices.Contains(r.active, m) {
			st = StatusActive
		}
		out = append(out, Entry{Model: m, Status: st})
	}

	bad := make([]*model.ContextModel, 0, len(r.rejected))
	for _, m := range r.rejected {
		bad = append(bad, m)
	}
	slices.SortFunc(bad, func(a, b *model.ContextModel) int { return cmp.Compare(a.ID(), b.ID()) })
	for _, m := range bad {
		out = append(out, Entry{Model: m, Status: StatusInvalid})
	}
	return out
}
