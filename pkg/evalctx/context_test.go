package evalctx

import (
	"testing"
	"time"

	"github.com/coldcfg/coldcfg/pkg/promise"
)

func TestContext_VariablePutGet_Roundtrip(t *testing.T) {
	ctx := New()
	ctx.PushFrame(FrameBundle, "mybundle", "default", "mybundle")

	err := ctx.VariablePut("bundle", "x", Variable{Value: promise.Scalar("hello"), Type: promise.TypeString})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v, ok := ctx.VariableGet("x")
	if !ok {
		t.Fatalf("expected variable x to be found")
	}
	if v.Value.Scalar != "hello" {
		t.Fatalf("expected hello, got %q", v.Value.Scalar)
	}
}

func TestContext_VariablePut_ScopeAbsent(t *testing.T) {
	ctx := New()
	err := ctx.VariablePut("this", "x", Variable{Value: promise.Scalar("y")})
	if err == nil {
		t.Fatalf("expected SCOPE_ABSENT error with no promise/iteration frame")
	}
	if _, ok := err.(*ErrScopeAbsent); !ok {
		t.Fatalf("expected *ErrScopeAbsent, got %T", err)
	}
}

func TestContext_ClassGuard_ShortCircuit(t *testing.T) {
	ctx := New()
	ctx.ClassPutHard("A", nil)

	ok, err := ctx.ClassIsDefined("A.!B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected A.!B true when only A is defined")
	}

	ctx.ClassPutHard("B", nil)
	ok, err = ctx.ClassIsDefined("A.!B")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected A.!B false once B is also defined")
	}
}

func TestContext_HardClass_ExpiresOnReference(t *testing.T) {
	ctx := New()
	ctx.Hard.Put("transient", nil, time.Millisecond, ExpiryReset)
	time.Sleep(5 * time.Millisecond)
	if ctx.IsDefined("transient") {
		t.Fatalf("expected expired hard class to no longer be defined")
	}
}

func TestContext_PopFrame_WrongKind(t *testing.T) {
	ctx := New()
	ctx.PushFrame(FrameBundle, "b", "default", "b")
	if err := ctx.PopFrame(FramePromise); err == nil {
		t.Fatalf("expected error popping bundle frame as promise")
	}
}

func TestContext_SysScope(t *testing.T) {
	ctx := New()
	ctx.Sys.Put("fqdn", Variable{Value: promise.Scalar("host.example.com"), Type: promise.TypeString})
	v, ok := ctx.VariableGet("sys.fqdn")
	if !ok || v.Value.Scalar != "host.example.com" {
		t.Fatalf("expected sys.fqdn lookup to resolve, got %v ok=%v", v, ok)
	}
}
