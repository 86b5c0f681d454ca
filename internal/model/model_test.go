package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yanizio/whiteboard/internal/model"
	"github.com/yanizio/whiteboard/internal/tenant"
	"github.com/yanizio/whiteboard/internal/webctx"
)

type fakeHandle struct{ id int64 }

func (h fakeHandle) HandleID() int64 { return h.id }
func (h fakeHandle) String() string  { return "handle" }

func TestValidate_BlankNameInvalid(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "   ", "\t"} {
		m := model.New(tenant.New(1, "a"), 0, 1)
		m.SetName(name)
		assert.False(t, m.Validate(), "name %q", name)
		assert.Equal(t, model.ValidityInvalid, m.Validity())
	}

	m := model.New(nil, 0, 2)
	m.SetName("app")
	assert.True(t, m.Validate())
}

func TestValidate_MemoizedEvenAfterMutation(t *testing.T) {
	t.Parallel()

	m := model.New(nil, 0, 1)
	assert.Equal(t, model.ValidityUnknown, m.Validity())
	require.False(t, m.Validate())

	// The cached answer is stale on purpose: fixing the name afterwards
	// does not re-run validation.
	m.SetName("now-named")
	for i := 0; i < 5; i++ {
		assert.False(t, m.Validate())
	}

	v := model.New(nil, 0, 2)
	v.SetName("named")
	require.True(t, v.Validate())
	v.SetName("")
	assert.True(t, v.Validate())
}

func TestValidate_WarnsOnlyWithReference(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	plain := model.New(nil, 0, 1)
	plain.Validate()
	assert.Equal(t, 0, logs.Len())

	ref := model.New(nil, 0, 2)
	ref.SetReference(fakeHandle{id: 7})
	ref.Validate()
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "missing name property for context", logs.All()[0].Message)
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":           "/",
		"/":          "/",
		"app":        "/app",
		"/app/":      "/app",
		"/app//x/":   "/app/x",
		" /a/./b ":   "/a/b",
		"/app/../bb": "/bb",
	}
	for in, want := range cases {
		assert.Equal(t, want, model.NormalizePath(in), "input %q", in)
	}
}

func TestResolution_SettersAreExclusive(t *testing.T) {
	t.Parallel()

	m := model.New(nil, 0, 1)
	assert.Equal(t, model.ResolutionNone, m.Resolution())

	m.SetSupplier(func(*tenant.Tenant, string) (webctx.Context, error) { return nil, nil })
	assert.Equal(t, model.ResolutionSupplier, m.Resolution())

	m.SetReference(fakeHandle{id: 1})
	assert.Equal(t, model.ResolutionReference, m.Resolution())
	assert.Nil(t, m.Supplier())

	ctx := webctx.Wrap(nil, webctx.DefaultHelper{}, "x")
	m.SetInstance(ctx)
	assert.Equal(t, model.ResolutionDirect, m.Resolution())
	assert.Nil(t, m.Reference())
	assert.True(t, m.HasDirectInstance())
}

func TestNewDirect(t *testing.T) {
	t.Parallel()

	ctx := webctx.Wrap(nil, webctx.DefaultHelper{}, "static")
	m := model.NewDirect(ctx, nil, "static/")
	assert.Equal(t, "static", m.Name())
	assert.Equal(t, "/static", m.Path())
	assert.Same(t, ctx, m.Instance())
	assert.Positive(t, m.ID(), "direct models never collide with the default id")
}

func TestPromote_OnlyOnce(t *testing.T) {
	t.Parallel()

	m := model.New(nil, 0, 1)
	ctx := webctx.Wrap(nil, webctx.DefaultHelper{}, "x")

	assert.False(t, m.Promote(ctx, false), "no supplier yet")

	m.SetSupplier(func(*tenant.Tenant, string) (webctx.Context, error) { return ctx, nil })
	assert.True(t, m.Promote(ctx, true))
	assert.True(t, m.Shared())
	assert.False(t, m.Promote(ctx, false))
	assert.True(t, m.Shared(), "second promotion must not touch the flag")
}

func TestVirtualHosts(t *testing.T) {
	t.Parallel()

	m := model.New(nil, 0, 1)
	assert.True(t, m.ServesHost("anything"))

	m.SetVirtualHosts([]string{"B.example", "a.example", "", "b.example"})
	assert.Equal(t, []string{"b.example", "a.example"}, m.VirtualHosts())
	assert.True(t, m.ServesHost("A.EXAMPLE"))
	assert.False(t, m.ServesHost("c.example"))
}

func TestParametersAreCopied(t *testing.T) {
	t.Parallel()

	in := map[string]string{"k": "v"}
	m := model.New(nil, 0, 1)
	m.SetParameters(in)
	in["k"] = "changed"

	out := m.Parameters()
	assert.Equal(t, "v", out["k"])
	out["k"] = "again"
	assert.Equal(t, "v", m.Parameters()["k"])
}

func TestDefault_Singleton(t *testing.T) {
	t.Parallel()

	d := model.Default()
	require.Same(t, d, model.Default())
	assert.True(t, model.IsDefault(d))
	assert.Equal(t, model.DefaultContextName, d.Name())
	assert.Equal(t, "/", d.Path())
	assert.Equal(t, math.MinInt32/2, d.Priority())
	assert.Greater(t, d.Priority(), math.MinInt32)
	assert.Nil(t, d.Owner())
	assert.True(t, d.Validate())
	assert.Equal(t, model.ResolutionSupplier, d.Resolution())

	caller := tenant.New(42, "web")
	ctx, err := d.Supplier()(caller, d.Name())
	require.NoError(t, err)
	assert.Equal(t, "default", ctx.Name())
	assert.Same(t, caller, ctx.Tenant())
}

func TestElement_TargetContext(t *testing.T) {
	t.Parallel()

	e := model.Element{}
	assert.Equal(t, model.DefaultContextName, e.TargetContext())
	e.ContextName = "admin"
	assert.Equal(t, "admin", e.TargetContext())
}
