package iterate

import (
	"testing"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

func newCtxWithBundleVars(t *testing.T, vars map[string]promise.Rval) *evalctx.Context {
	t.Helper()
	ctx := evalctx.New()
	ctx.PushFrame(evalctx.FrameBundle, "b", "default", "b")
	ctx.PushFrame(evalctx.FramePromise, "p", "default", "b")
	for name, v := range vars {
		if err := ctx.VariablePut("bundle", name, evalctx.Variable{Value: v}); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	return ctx
}

func TestIterate_NakedListFiresOncePerElement(t *testing.T) {
	ctx := newCtxWithBundleVars(t, map[string]promise.Rval{
		"list": promise.List(promise.Scalar("a"), promise.Scalar("b"), promise.Scalar("c")),
	})
	p := &promise.Promise{Promiser: promise.Scalar("@(list)")}

	it := Prepare(ctx, p)
	var seen []string
	for it.Next(ctx) {
		v, _ := ctx.VariableGet("list")
		seen = append(seen, v.Value.Scalar)
	}
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("expected a,b,c in order, got %v", seen)
	}
}

func TestIterate_CrossProductOrder(t *testing.T) {
	ctx := newCtxWithBundleVars(t, map[string]promise.Rval{
		"xs": promise.List(promise.Scalar("1"), promise.Scalar("2")),
		"ys": promise.List(promise.Scalar("p"), promise.Scalar("q")),
	})
	p := &promise.Promise{Promiser: promise.Scalar("$(xs)-$(ys)")}

	it := Prepare(ctx, p)
	var seen []string
	for it.Next(ctx) {
		x, _ := ctx.VariableGet("xs")
		y, _ := ctx.VariableGet("ys")
		seen = append(seen, x.Value.Scalar+","+y.Value.Scalar)
	}
	want := []string{"1,p", "1,q", "2,p", "2,q"}
	if len(seen) != len(want) {
		t.Fatalf("expected %d combos, got %d: %v", len(want), len(seen), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("at %d: expected %s, got %s (full: %v)", i, want[i], seen[i], seen)
		}
	}
}

func TestIterate_EmptyWheelSuppressesPromise(t *testing.T) {
	ctx := newCtxWithBundleVars(t, map[string]promise.Rval{
		"empty": promise.List(),
	})
	p := &promise.Promise{Promiser: promise.Scalar("@(empty)")}

	it := Prepare(ctx, p)
	if it.Next(ctx) {
		t.Fatalf("expected empty wheel to suppress all iterations")
	}
}

func TestIterate_IfElseAlwaysActuatesOnce(t *testing.T) {
	ctx := newCtxWithBundleVars(t, map[string]promise.Rval{
		"empty": promise.List(),
	})
	p := &promise.Promise{
		Promiser: promise.Scalar("@(empty)"),
		Constraints: []promise.Constraint{
			{Lval: "value", Rval: promise.FnCall("ifelse", promise.Scalar("a"), promise.Scalar("fallback"))},
		},
	}

	it := Prepare(ctx, p)
	if !it.Next(ctx) {
		t.Fatalf("expected ifelse to force exactly one iteration despite empty wheel")
	}
	if it.Next(ctx) {
		t.Fatalf("expected only one forced iteration")
	}
}

func TestIterate_NoWheelsRunsOnce(t *testing.T) {
	ctx := evalctx.New()
	p := &promise.Promise{Promiser: promise.Scalar("/etc/motd")}
	it := Prepare(ctx, p)
	count := 0
	for it.Next(ctx) {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one iteration with no wheels, got %d", count)
	}
}
