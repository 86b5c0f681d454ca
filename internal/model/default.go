package model

import (
	"math"
	"sync"

	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

const (
	// DefaultContextName is the name of the process-wide default context.
	DefaultContextName = "default"
	// DefaultContextPath is the path of the process-wide default context.
	DefaultContextPath = "/"
	// DefaultContextPriority keeps the default context trivially
	// overridable while staying well above the absolute floor.
	DefaultContextPriority = math.MinInt32 / 2
)

var (
	defaultOnce  sync.Once
	defaultModel *ContextModel
)

// Default returns the process-wide default context model.  It is built on
// the first call and never rebuilt; every caller sees the same pointer.
// The supplier binds a DefaultHelper to whichever tenant acquires it, so
// resources and security checks stay tenant-scoped.
func Default() *ContextModel {
	defaultOnce.Do(func() {
		m := New(nil, DefaultContextPriority, 0)
		m.SetName(DefaultContextName)
		m.SetPath(DefaultContextPath)
		m.SetSupplier(func(caller *tenant.Tenant, name string) (webctx.Context, error) {
			return webctx.Wrap(caller, webctx.DefaultHelper{}, name), nil
		})
		m.Validate()
		defaultModel = m
	})
	return defaultModel
}

// IsDefault reports whether m is the process-wide default model.
func IsDefault(m *ContextModel) bool { return m != nil && m == Default() }
