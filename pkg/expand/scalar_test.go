package expand

import (
	"testing"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

func TestExpandScalar_NoReferences_Roundtrip(t *testing.T) {
	ctx := evalctx.New()
	s := "plain string without references"
	if got := ExpandScalar(ctx, s); got != s {
		t.Fatalf("expected roundtrip, got %q", got)
	}
}

func TestExpandScalar_SimpleVariable(t *testing.T) {
	ctx := evalctx.New()
	ctx.PushFrame(evalctx.FrameBundle, "b", "default", "b")
	ctx.VariablePut("bundle", "v", evalctx.Variable{Value: promise.Scalar("world"), Type: promise.TypeString})

	got := ExpandScalar(ctx, "hello $(v)")
	if got != "hello world" {
		t.Fatalf("expected \"hello world\", got %q", got)
	}
}

func TestExpandScalar_UnresolvedLeftVerbatim(t *testing.T) {
	ctx := evalctx.New()
	got := ExpandScalar(ctx, "hello $(missing)")
	if got != "hello $(missing)" {
		t.Fatalf("expected unresolved reference preserved verbatim, got %q", got)
	}
}

func TestIsNaked(t *testing.T) {
	if name, ok := IsNaked("@(mylist)"); !ok || name != "mylist" {
		t.Fatalf("expected naked reference mylist, got %q ok=%v", name, ok)
	}
	if _, ok := IsNaked("prefix @(mylist)"); ok {
		t.Fatalf("expected non-naked reference to fail")
	}
	if _, ok := IsNaked("${mylist}"); !ok {
		t.Fatalf("expected ${name} to also count as naked")
	}
}

func TestExpandRval_ListInlinesNakedList(t *testing.T) {
	ctx := evalctx.New()
	ctx.PushFrame(evalctx.FrameBundle, "b", "default", "b")
	ctx.VariablePut("bundle", "l", evalctx.Variable{
		Value: promise.List(promise.Scalar("a"), promise.Scalar("b"), promise.Scalar("c")),
		Type:  promise.TypeSlist,
	})

	fns := NewFuncTable()
	rval := promise.List(promise.Scalar("@(l)"), promise.Scalar("d"))
	out, err := ExpandRval(ctx, fns, rval)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.List) != 4 {
		t.Fatalf("expected naked list to inline to 4 elements, got %d", len(out.List))
	}
	if out.List[0].Scalar != "a" || out.List[3].Scalar != "d" {
		t.Fatalf("unexpected inlined order: %v", out.List)
	}
}

func TestResolveDataOrListReference(t *testing.T) {
	ctx := evalctx.New()
	ctx.PushFrame(evalctx.FrameBundle, "b", "default", "b")
	ctx.VariablePut("bundle", "varname", evalctx.Variable{Value: promise.Scalar("target"), Type: promise.TypeString})
	ctx.VariablePut("bundle", "target", evalctx.Variable{
		Value: promise.List(promise.Scalar("x"), promise.Scalar("y")),
		Type:  promise.TypeSlist,
	})

	rval, ok := ResolveDataOrListReference(ctx, "@($(varname))")
	if !ok {
		t.Fatalf("expected data-or-list reference to resolve")
	}
	if rval.Kind != promise.KindList || len(rval.List) != 2 {
		t.Fatalf("expected resolved list of 2, got %v", rval)
	}
}
