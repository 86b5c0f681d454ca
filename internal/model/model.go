// internal/model/model.go
//
// Context model.
//
// Context
// -------
// A ContextModel describes one context registration: which tenant
// contributed it, under which name and path, with which priority and
// registration id, and how the live context instance is obtained.  Three
// resolution strategies exist:
//
//   - direct instance:    the instance is stored on the model,
//   - supplier:           a function of (calling tenant, context name),
//   - deferred reference: an external Handle dereferenced per tenant.
//
// At most one strategy is set.  Each setter clears the other two, so the
// invariant holds by construction.
//
// Validity is computed once by Validate and memoized.  Later mutations do
// not re-run validation; the cached answer stays until the model is
// discarded.  Registries call Validate right after building a model, so in
// practice the staleness only shows when a caller mutates a registered
// model.
//
// Notes
// -----
//   - A model is safe for concurrent use.  Resolution fields are guarded
//     because the resolver may promote a supplier model to a direct one
//     while request goroutines read it.
//   - Oxford commas, two spaces after periods.
package model

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// Supplier builds a context instance for the calling tenant.  It may
// return a fresh instance on every call.
type Supplier func(caller *tenant.Tenant, name string) (webctx.Context, error)

// Handle is an external registration handle that must be dereferenced
// within a tenant's scope and released afterwards.
type Handle interface {
	HandleID() int64
	String() string
}

// Resolution names the strategy a model uses to obtain its instance.
type Resolution int

const (
	ResolutionNone Resolution = iota
	ResolutionDirect
	ResolutionSupplier
	ResolutionReference
)

func (r Resolution) String() string {
	switch r {
	case ResolutionDirect:
		return "direct"
	case ResolutionSupplier:
		return "supplier"
	case ResolutionReference:
		return "reference"
	default:
		return "none"
	}
}

// Validity is the memoized validation state.
type Validity int8

const (
	ValidityUnknown Validity = iota
	ValidityValid
	ValidityInvalid
)

// seq feeds the construction-order tie-break used by ranking.
var seq atomic.Int64

// ContextModel describes one context registration.
type ContextModel struct {
	seq      int64
	owner    *tenant.Tenant
	priority int
	id       int64

	mu           sync.RWMutex
	name         string
	path         string
	instance     webctx.Context
	supplier     Supplier
	reference    Handle
	shared       bool
	params       map[string]string
	virtualHosts []string
	properties   map[string]any
	validity     Validity
}

// New returns a model for a registration made by owner with the given
// priority and registration id.  Resolution is left unset.
func New(owner *tenant.Tenant, priority int, id int64) *ContextModel {
	m := &ContextModel{
		seq:        seq.Add(1),
		owner:      owner,
		priority:   priority,
		id:         id,
		path:       "/",
		params:     map[string]string{},
		properties: map[string]any{},
	}
	m.properties[PropID] = id
	m.properties[PropPriority] = priority
	return m
}

// NewDirect returns a model that resolves to ctx for every caller.  The
// model has priority 0 and a fresh registration id.
func NewDirect(ctx webctx.Context, owner *tenant.Tenant, contextPath string) *ContextModel {
	m := New(owner, 0, tenant.NextID())
	m.instance = ctx
	if ctx != nil {
		m.name = ctx.Name()
	}
	if contextPath != "" {
		m.path = NormalizePath(contextPath)
	}
	return m
}

// Registration property keys mirrored into Properties.
const (
	PropID       = "id"
	PropPriority = "priority"
	PropName     = "name"
	PropPath     = "path"
)

//
// Immutable identity
//

func (m *ContextModel) ID() int64             { return m.id }
func (m *ContextModel) Priority() int         { return m.priority }
func (m *ContextModel) Owner() *tenant.Tenant { return m.owner }

// Seq returns the construction sequence number, the last-resort
// tie-break in ranking.
func (m *ContextModel) Seq() int64 { return m.seq }

//
// Name and path
//

func (m *ContextModel) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.name
}

func (m *ContextModel) SetName(name string) {
	m.mu.Lock()
	m.name = name
	m.properties[PropName] = name
	m.mu.Unlock()
}

func (m *ContextModel) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// SetPath stores the normalized form of p.
func (m *ContextModel) SetPath(p string) {
	np := NormalizePath(p)
	m.mu.Lock()
	m.path = np
	m.properties[PropPath] = np
	m.mu.Unlock()
}

// NormalizePath cleans p, forces a leading separator, and strips trailing
// ones.  The empty string becomes "/".
func NormalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

//
// Parameters, virtual hosts, and properties
//

// Parameters returns a copy of the init parameters.
func (m *ContextModel) Parameters() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// SetParameters replaces the init parameters.
func (m *ContextModel) SetParameters(params map[string]string) {
	fresh := make(map[string]string, len(params))
	for k, v := range params {
		fresh[k] = v
	}
	m.mu.Lock()
	m.params = fresh
	m.mu.Unlock()
}

// VirtualHosts returns the ordered virtual host list.  Empty means all
// hosts.
func (m *ContextModel) VirtualHosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.virtualHosts...)
}

// SetVirtualHosts stores hosts in order, dropping blanks and duplicates.
func (m *ContextModel) SetVirtualHosts(hosts []string) {
	seen := make(map[string]struct{}, len(hosts))
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	m.mu.Lock()
	m.virtualHosts = out
	m.mu.Unlock()
}

// ServesHost reports whether the model is bound to host.
func (m *ContextModel) ServesHost(host string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.virtualHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range m.virtualHosts {
		if h == host {
			return true
		}
	}
	return false
}

// Properties returns a copy of the registration properties.
func (m *ContextModel) Properties() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.properties))
	for k, v := range m.properties {
		out[k] = v
	}
	return out
}

// SetProperty records a registration property.
func (m *ContextModel) SetProperty(key string, val any) {
	m.mu.Lock()
	m.properties[key] = val
	m.mu.Unlock()
}

// RemoveProperty drops a registration property.
func (m *ContextModel) RemoveProperty(key string) {
	m.mu.Lock()
	delete(m.properties, key)
	m.mu.Unlock()
}

//
// Resolution strategy
//

// Resolution reports which strategy is configured.
func (m *ContextModel) Resolution() Resolution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolutionLocked()
}

func (m *ContextModel) resolutionLocked() Resolution {
	switch {
	case m.instance != nil:
		return ResolutionDirect
	case m.supplier != nil:
		return ResolutionSupplier
	case m.reference != nil:
		return ResolutionReference
	default:
		return ResolutionNone
	}
}

// HasDirectInstance reports whether acquire/release bookkeeping can be
// skipped.
func (m *ContextModel) HasDirectInstance() bool { return m.Resolution() == ResolutionDirect }

func (m *ContextModel) Instance() webctx.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instance
}

func (m *ContextModel) Supplier() Supplier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supplier
}

func (m *ContextModel) Reference() Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reference
}

// SetInstance makes the model direct.  Supplier and reference are cleared.
func (m *ContextModel) SetInstance(ctx webctx.Context) {
	m.mu.Lock()
	m.instance, m.supplier, m.reference = ctx, nil, nil
	m.mu.Unlock()
}

// SetSupplier makes the model supplier-resolved.
func (m *ContextModel) SetSupplier(s Supplier) {
	m.mu.Lock()
	m.instance, m.supplier, m.reference = nil, s, nil
	m.mu.Unlock()
}

// SetReference makes the model reference-resolved.
func (m *ContextModel) SetReference(h Handle) {
	m.mu.Lock()
	m.instance, m.supplier, m.reference = nil, nil, h
	m.mu.Unlock()
}

// Promote turns a supplier model into a direct one holding ctx and
// records the reconciled shared flag.  It returns false when the model is
// not supplier-resolved any more, which makes repeated promotion a no-op.
func (m *ContextModel) Promote(ctx webctx.Context, shared bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resolutionLocked() != ResolutionSupplier || ctx == nil {
		return false
	}
	m.instance, m.supplier, m.reference = ctx, nil, nil
	m.shared = shared
	return true
}

// Shared reports the declared shared flag.
func (m *ContextModel) Shared() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shared
}

func (m *ContextModel) SetShared(shared bool) {
	m.mu.Lock()
	m.shared = shared
	m.mu.Unlock()
}

//
// Validation
//

// Validate computes validity once and memoizes it.  A blank name makes
// the model invalid.  A warning is logged only when the model carries a
// reference handle, which is the case worth diagnosing.
func (m *ContextModel) Validate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.validity == ValidityUnknown {
		m.validity = ValidityValid
		if strings.TrimSpace(m.name) == "" {
			m.validity = ValidityInvalid
			if m.reference != nil {
				zap.L().Warn("missing name property for context",
					zap.Stringer("reference", m.reference),
					zap.Int64("id", m.id))
			}
		}
	}
	return m.validity == ValidityValid
}

// Validity returns the memoized state without computing it.
func (m *ContextModel) Validity() Validity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validity
}

func (m *ContextModel) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner := "shared=true"
	if m.owner != nil {
		owner = "tenant=" + m.owner.String()
	}
	return fmt.Sprintf("ContextModel{id=%d,name='%s',path='%s',resolution=%s,%s}",
		m.id, m.name, m.path, m.resolutionLocked(), owner)
}
