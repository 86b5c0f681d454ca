package resolver

import (
	"reflect"
	"strconv"

	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/metrics"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

// Promote detects a supplier that is a singleton in disguise.  The supplier
// is invoked twice in a row for caller; when both calls return the very
// same instance the model is switched to direct resolution.  The declared
// shared flag is reconciled against the instance: the instance wins, and a
// mismatch is logged rather than treated as an error.
//
// Promotion happens at most once per model.  Concurrent callers share one
// attempt; later calls return false.
func (r *Resolver) Promote(m *model.ContextModel, caller *tenant.Tenant) (bool, error) {
	v, err, _ := r.promotions.Do(strconv.FormatInt(m.Seq(), 10), func() (any, error) {
		s := m.Supplier()
		if s == nil || m.Resolution() != model.ResolutionSupplier {
			return false, nil
		}

		first, err := s(caller, m.Name())
		if err != nil {
			return false, err
		}
		second, err := s(caller, m.Name())
		if err != nil {
			return false, err
		}
		if !sameInstance(first, second) {
			return false, nil
		}

		shared := r.reconcileShared(m, first)
		if !m.Promote(first, shared) {
			return false, nil
		}
		metrics.PromotionsTotal.Inc()
		r.log.Info("context promoted to singleton",
			zap.Int64("id", m.ID()),
			zap.String("name", m.Name()),
			zap.Bool("shared", shared))
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (r *Resolver) reconcileShared(m *model.ContextModel, ctx webctx.Context) bool {
	declared := m.Shared()
	s, ok := ctx.(webctx.Shared)
	if !ok {
		if declared {
			r.log.Warn("context registered as shared, but the instance does not advertise sharing; switching to non-shared",
				zap.Int64("id", m.ID()))
		}
		return false
	}

	actual := s.Shared()
	switch {
	case declared && !actual:
		r.log.Warn("context registered as shared, but the instance is not shared; switching to non-shared",
			zap.Int64("id", m.ID()))
	case !declared && actual:
		r.log.Warn("context registered as non-shared, but the instance is shared; switching to shared",
			zap.Int64("id", m.ID()))
	}
	return actual
}

// sameInstance reports pointer identity.  Non-pointer values cannot prove
// identity and never match.
func sameInstance(a, b webctx.Context) bool {
	if a == nil || b == nil {
		return false
	}
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) || ta.Kind() != reflect.Pointer {
		return false
	}
	return a == b
}
