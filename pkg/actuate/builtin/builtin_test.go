package builtin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

func TestFiles_WritesContentThenNoops(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "motd")
	p := &promise.Promise{
		PromiseType: "files",
		Promiser:    promise.Scalar(path),
		Constraints: []promise.Constraint{
			{Lval: "content", Rval: promise.Scalar("hello\n")},
		},
	}
	ctx := evalctx.New()

	outcome, err := (Files{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("first actuate: %v", err)
	}
	if outcome != promise.CHANGE {
		t.Fatalf("expected CHANGE on first write, got %v", outcome)
	}

	outcome, err = (Files{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("second actuate: %v", err)
	}
	if outcome != promise.NOOP {
		t.Fatalf("expected NOOP once content matches, got %v", outcome)
	}

	got, err := os.ReadFile(path)
	if err != nil || string(got) != "hello\n" {
		t.Fatalf("unexpected file contents: %q err=%v", got, err)
	}
}

func TestFiles_DryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "motd")
	p := &promise.Promise{
		PromiseType: "files",
		Promiser:    promise.Scalar(path),
		Constraints: []promise.Constraint{
			{Lval: "content", Rval: promise.Scalar("hello\n")},
		},
	}
	ctx := evalctx.New()
	outcome, err := (Files{}).Actuate(ctx, p, true)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != promise.WARN {
		t.Fatalf("expected WARN under dry-run, got %v", outcome)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file written under dry-run")
	}
}

func TestVars_DefinesThenNoops(t *testing.T) {
	ctx := evalctx.New()
	ctx.PushFrame(evalctx.FrameBundle, "b", "default", "b")
	defer ctx.PopFrame(evalctx.FrameBundle)

	p := &promise.Promise{
		PromiseType: "vars",
		Promiser:    promise.Scalar("greeting"),
		Constraints: []promise.Constraint{
			{Lval: "string", Rval: promise.Scalar("hi")},
		},
	}
	outcome, err := (Vars{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != promise.CHANGE {
		t.Fatalf("expected CHANGE on first definition, got %v", outcome)
	}

	outcome, err = (Vars{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != promise.NOOP {
		t.Fatalf("expected NOOP once defined with same value, got %v", outcome)
	}

	v, ok := ctx.VariableGet("greeting")
	if !ok || v.Value.Scalar != "hi" {
		t.Fatalf("expected greeting=hi, got %+v ok=%v", v, ok)
	}
}

func TestClasses_DefinesHardClass(t *testing.T) {
	ctx := evalctx.New()
	p := &promise.Promise{
		PromiseType: "classes",
		Promiser:    promise.Scalar("provisioned"),
	}
	outcome, err := (Classes{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != promise.CHANGE {
		t.Fatalf("expected CHANGE on first definition, got %v", outcome)
	}
	if !ctx.IsDefined("provisioned") {
		t.Fatalf("expected provisioned class to be defined")
	}

	outcome, err = (Classes{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != promise.NOOP {
		t.Fatalf("expected NOOP once already defined, got %v", outcome)
	}
}

func TestClasses_ExpressionGatesDefinition(t *testing.T) {
	ctx := evalctx.New()
	p := &promise.Promise{
		PromiseType: "classes",
		Promiser:    promise.Scalar("derived"),
		Constraints: []promise.Constraint{
			{Lval: "expression", Rval: promise.Scalar("missing_prereq")},
		},
	}
	outcome, err := (Classes{}).Actuate(ctx, p, false)
	if err != nil {
		t.Fatalf("actuate: %v", err)
	}
	if outcome != promise.NOOP {
		t.Fatalf("expected NOOP when expression is false, got %v", outcome)
	}
	if ctx.IsDefined("derived") {
		t.Fatalf("expected derived to remain undefined")
	}
}
