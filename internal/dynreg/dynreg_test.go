package dynreg_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yanizio/whiteboard/internal/dynreg"
	"github.com/yanizio/whiteboard/internal/listener"
	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
)

// view records installation order.
type view struct {
	calls []string
	fail  error
}

func (v *view) RegisterServlet(s *model.ServletModel) error {
	v.calls = append(v.calls, "servlet:"+s.Name)
	return v.fail
}

func (v *view) RegisterFilter(f *model.FilterModel) error {
	v.calls = append(v.calls, "filter:"+f.Name)
	return v.fail
}

func (v *view) RegisterListener(*model.ListenerModel) error {
	v.calls = append(v.calls, "listener")
	return v.fail
}

func newBuffer() *dynreg.Buffer { return dynreg.New(dynreg.WithLogger(zap.NewNop())) }

func TestDrain_OrderAndClear(t *testing.T) {
	t.Parallel()

	acme := tenant.New(1, "acme")
	b := newBuffer()
	require.NoError(t, b.Add(acme, dynreg.KindFilter, &model.FilterModel{Name: "f1"}))
	require.NoError(t, b.Add(acme, dynreg.KindServlet, &model.ServletModel{Name: "s1"}))
	require.NoError(t, b.Add(acme, dynreg.KindListener, &model.ListenerModel{Listener: struct{}{}}))
	require.NoError(t, b.Add(acme, dynreg.KindServlet, &model.ServletModel{Name: "s2"}))
	assert.Equal(t, 4, b.Pending())

	v := &view{}
	rep, err := b.Drain(func(*tenant.Tenant) dynreg.ContainerView { return v })
	require.NoError(t, err)
	assert.Equal(t, dynreg.Report{Registered: 4}, rep)
	assert.Equal(t, []string{"listener", "servlet:s1", "servlet:s2", "filter:f1"}, v.calls)
	assert.Zero(t, b.Pending())

	rep, err = b.Drain(func(*tenant.Tenant) dynreg.ContainerView { return v })
	require.NoError(t, err)
	assert.Equal(t, dynreg.Report{}, rep, "second drain does nothing")
	assert.Len(t, v.calls, 4)
}

func TestAdd_MarksDynamicAndTenant(t *testing.T) {
	t.Parallel()

	acme := tenant.New(2, "acme")
	l := &model.ListenerModel{Element: model.Element{Priority: 9, ID: 3}}
	require.NoError(t, newBuffer().Add(acme, dynreg.KindListener, l))
	assert.True(t, l.Dynamic)
	assert.Same(t, acme, l.Tenant)
}

func TestAdd_KindMismatch(t *testing.T) {
	t.Parallel()

	b := newBuffer()
	err := b.Add(nil, dynreg.KindServlet, &model.FilterModel{Name: "f"})
	require.ErrorIs(t, err, dynreg.ErrKindMismatch)
	require.ErrorIs(t, b.Add(nil, dynreg.Kind(42), &model.FilterModel{}), dynreg.ErrKindMismatch)
	require.ErrorIs(t, b.Add(nil, dynreg.KindListener, (*model.ListenerModel)(nil)), dynreg.ErrKindMismatch)
	assert.Zero(t, b.Pending())
}

func TestAdd_ServletReplacedByName(t *testing.T) {
	t.Parallel()

	b := newBuffer()
	first := &model.ServletModel{Name: "a", Patterns: []string{"/one"}}
	second := &model.ServletModel{Name: "a", Patterns: []string{"/two"}}
	require.NoError(t, b.Add(nil, dynreg.KindServlet, first))
	require.NoError(t, b.Add(nil, dynreg.KindServlet, &model.ServletModel{Name: "b"}))
	require.NoError(t, b.Add(nil, dynreg.KindServlet, second))
	assert.Equal(t, 2, b.Pending())

	var got []*model.ServletModel
	v := &captureView{servlet: func(s *model.ServletModel) { got = append(got, s) }}
	_, err := b.Drain(func(*tenant.Tenant) dynreg.ContainerView { return v })
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Same(t, second, got[0], "replacement keeps the original position")
	assert.Equal(t, "b", got[1].Name)
}

func TestDrain_MissingViewDrops(t *testing.T) {
	t.Parallel()

	live, gone := tenant.New(3, "live"), tenant.New(4, "gone")
	b := newBuffer()
	require.NoError(t, b.Add(live, dynreg.KindServlet, &model.ServletModel{Name: "kept"}))
	require.NoError(t, b.Add(gone, dynreg.KindServlet, &model.ServletModel{Name: "lost"}))
	require.NoError(t, b.Add(gone, dynreg.KindFilter, &model.FilterModel{Name: "lost"}))

	v := &view{}
	rep, err := b.Drain(func(t *tenant.Tenant) dynreg.ContainerView {
		if tenant.Same(t, live) {
			return v
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, dynreg.Report{Registered: 1, Dropped: 2}, rep)
	assert.Equal(t, []string{"servlet:kept"}, v.calls)
	assert.Zero(t, b.Pending())
}

func TestDrain_ErrorsDoNotAbort(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	b := newBuffer()
	require.NoError(t, b.Add(nil, dynreg.KindServlet, &model.ServletModel{Name: "s"}))
	require.NoError(t, b.Add(nil, dynreg.KindFilter, &model.FilterModel{Name: "f"}))

	v := &view{fail: boom}
	rep, err := b.Drain(func(*tenant.Tenant) dynreg.ContainerView { return v })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, []string{"servlet:s", "filter:f"}, v.calls)
	assert.Zero(t, b.Pending())
}

func TestDrain_AddDuringDrainWaitsForNextRun(t *testing.T) {
	t.Parallel()

	b := newBuffer()
	require.NoError(t, b.Add(nil, dynreg.KindServlet, &model.ServletModel{Name: "first"}))

	v := &captureView{servlet: func(*model.ServletModel) {
		_ = b.Add(nil, dynreg.KindServlet, &model.ServletModel{Name: "late"})
	}}
	rep, err := b.Drain(func(*tenant.Tenant) dynreg.ContainerView { return v })
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Registered)
	assert.Equal(t, 1, b.Pending())
}

func TestRegisteringListener(t *testing.T) {
	t.Parallel()

	b := newBuffer()
	require.NoError(t, b.Add(nil, dynreg.KindListener, &model.ListenerModel{Listener: struct{}{}}))

	v := &view{}
	var cl listener.ContextListener = &dynreg.RegisteringListener{
		Buffer: b,
		Lookup: func(*tenant.Tenant) dynreg.ContainerView { return v },
	}
	cl.ContextInitialized(listener.ContextEvent{Path: "/"})
	cl.ContextDestroyed(listener.ContextEvent{Path: "/"})
	assert.Equal(t, []string{"listener"}, v.calls)
	assert.Zero(t, b.Pending())
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "servlet", dynreg.KindServlet.String())
	assert.Equal(t, "filter", dynreg.KindFilter.String())
	assert.Equal(t, "listener", dynreg.KindListener.String())
	assert.Equal(t, "kind(9)", dynreg.Kind(9).String())
}

type captureView struct {
	servlet func(*model.ServletModel)
}

func (c *captureView) RegisterServlet(s *model.ServletModel) error {
	if c.servlet != nil {
		c.servlet(s)
	}
	return nil
}
func (c *captureView) RegisterFilter(*model.FilterModel) error     { return nil }
func (c *captureView) RegisterListener(*model.ListenerModel) error { return nil }
