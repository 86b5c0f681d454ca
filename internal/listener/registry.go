// internal/listener/registry.go
//
// Listener ordering registry.
//
// Context
// -------
// Listeners reach a serving context two ways:
//
//   - ranked registrations carrying a priority and a registration id,
//   - positional additions (initializers, other listeners, dynamic
//     registrations) that only have a discovery order.
//
// The registry keeps both buckets apart and derives the final sequence on
// demand.  Materialize never patches a previous result; it builds a fresh
// sorted view from the two buckets every time the container starts.
//
// Ordering
// --------
// Keys sort by priority, highest first.  Positional entries count as
// priority 0.  At equal priority explicit entries come before positional
// ones, explicit ties fall back to the lower registration id, and
// positional ties keep discovery order.
//
// Notes
// -----
//   - Positional entries belong to one container run; ClearPositional is
//     called when the container stops.
//   - A duplicate (priority, id) key overwrites the earlier listener.
//   - Oxford commas, two spaces after periods.
package listener

import (
	"cmp"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/metrics"
	"github.com/yanizio/whiteboard/internal/model"
)

// Key orders one listener within a materialized sequence.
type Key struct {
	Priority   int
	ID         int64
	Position   int
	Positional bool
}

// ExplicitKey returns the key of a ranked registration.
func ExplicitKey(priority int, id int64) Key { return Key{Priority: priority, ID: id} }

// PositionalKey returns the synthetic key of the pos-th positional entry.
func PositionalKey(pos int) Key { return Key{Position: pos, Positional: true} }

// Compare orders keys as described in the file header.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(o.Priority, k.Priority); c != 0 {
		return c
	}
	if k.Positional != o.Positional {
		if k.Positional {
			return 1
		}
		return -1
	}
	if k.Positional {
		return cmp.Compare(k.Position, o.Position)
	}
	return cmp.Compare(k.ID, o.ID)
}

type entry struct {
	original any
	exposed  any
}

type explicitKey struct {
	priority int
	id       int64
}

// Registry is safe for concurrent use, though callers are expected to
// serialize Add and Remove against one serving context.
type Registry struct {
	prefix string
	log    *zap.Logger

	mu         sync.Mutex
	explicit   map[explicitKey]entry
	positional []entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithReservedPrefix sets the session attribute prefix hidden from
// tenants.  Empty values are ignored.
func WithReservedPrefix(p string) Option {
	return func(r *Registry) {
		if p != "" {
			r.prefix = p
		}
	}
}

// WithLogger enables duplicate-key warnings.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		prefix:   DefaultReservedPrefix,
		log:      zap.NewNop(),
		explicit: map[explicitKey]entry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add records l.  A nil or dynamic model puts l in the positional bucket;
// otherwise it is keyed by the model's priority and id.
func (r *Registry) Add(m *model.ListenerModel, l any) {
	if l == nil {
		return
	}
	e := entry{original: l, exposed: FilterSessionAttributes(l, r.prefix)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m == nil || m.Dynamic {
		r.positional = append(r.positional, e)
		return
	}
	k := explicitKey{priority: m.Priority, id: m.ID}
	if prev, dup := r.explicit[k]; dup && !sameListener(prev.original, l) {
		r.log.Warn("duplicate listener key, replacing earlier listener",
			zap.Int("priority", m.Priority), zap.Int64("id", m.ID))
	}
	r.explicit[k] = e
}

// Remove drops l from the bucket Add would have used.  Positional entries
// are matched by identity; a struct holding a func or map never matches.
func (r *Registry) Remove(m *model.ListenerModel, l any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m == nil || m.Dynamic {
		for i, e := range r.positional {
			if sameListener(e.original, l) {
				r.positional = slices.Delete(r.positional, i, i+1)
				return
			}
		}
		return
	}
	delete(r.explicit, explicitKey{priority: m.Priority, id: m.ID})
}

// Materialize returns the ordered listener sequence.  Session attribute
// listeners appear in their filtering decorator.
func (r *Registry) Materialize() []any {
	r.mu.Lock()
	type keyed struct {
		key Key
		val any
	}
	work := make([]keyed, 0, len(r.explicit)+len(r.positional))
	for k, e := range r.explicit {
		work = append(work, keyed{key: ExplicitKey(k.priority, k.id), val: e.exposed})
	}
	for pos, e := range r.positional {
		work = append(work, keyed{key: PositionalKey(pos), val: e.exposed})
	}
	r.mu.Unlock()

	slices.SortFunc(work, func(a, b keyed) int { return a.key.Compare(b.key) })
	out := make([]any, len(work))
	for i, w := range work {
		out[i] = w.val
	}
	metrics.ListenerMaterializeTotal.Inc()
	return out
}

// ClearPositional forgets every positional listener.  Called when the
// serving container stops.
func (r *Registry) ClearPositional() {
	r.mu.Lock()
	r.positional = nil
	r.mu.Unlock()
}

// Len reports how many listeners are held across both buckets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.explicit) + len(r.positional)
}

// sameListener compares identities without panicking on non-comparable
// dynamic types.  Funcs, maps, and slices compare by pointer, so two
// closures built from the same literal count as the same listener.
func sameListener(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch ta.Kind() {
	case reflect.Func, reflect.Map:
		return va.Pointer() == vb.Pointer()
	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	return false
}
