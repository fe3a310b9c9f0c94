package dispatch

import (
	"testing"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/expand"
	"github.com/coldcfg/coldcfg/pkg/expand/functions"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

type recordingActuator struct {
	calls     []string
	outcome   promise.Outcome
}

func (r *recordingActuator) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	r.calls = append(r.calls, p.Promiser.Scalar)
	return r.outcome, nil
}

func newDispatcher() (*Dispatcher, *expand.FuncTable) {
	funcs := expand.NewFuncTable()
	functions.Register(funcs)
	caps := NewCapabilityTable()
	d := &Dispatcher{Caps: caps, Funcs: funcs, Bodies: map[string]*promise.Body{}}
	return d, funcs
}

func TestDispatch_ClassGuardSkipsPromise(t *testing.T) {
	d, _ := newDispatcher()
	act := &recordingActuator{outcome: promise.CHANGE}
	d.Caps.Register("files", act)

	ctx := evalctx.New()
	p := promise.Promise{
		PromiseType: "files",
		Promiser:    promise.Scalar("/etc/motd"),
		ClassGuard:  "nonexistent_class",
	}
	outcome, err := d.DispatchPromise(ctx, "default", "b", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != promise.SKIPPED {
		t.Fatalf("expected SKIPPED, got %v", outcome)
	}
	if len(act.calls) != 0 {
		t.Fatalf("expected actuator not to be called, got %v", act.calls)
	}
}

func TestDispatch_GuardPasses_ActuatorCalled(t *testing.T) {
	d, _ := newDispatcher()
	act := &recordingActuator{outcome: promise.CHANGE}
	d.Caps.Register("files", act)

	ctx := evalctx.New()
	ctx.ClassPutHard("linux", nil)
	p := promise.Promise{
		ID:          "p1",
		PromiseType: "files",
		Promiser:    promise.Scalar("/etc/motd"),
		ClassGuard:  "linux",
	}
	outcome, err := d.DispatchPromise(ctx, "default", "b", p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != promise.CHANGE {
		t.Fatalf("expected CHANGE, got %v", outcome)
	}
	if len(act.calls) != 1 || act.calls[0] != "/etc/motd" {
		t.Fatalf("expected one call with /etc/motd, got %v", act.calls)
	}
}

func TestDispatch_NoActuator_FailsPromise(t *testing.T) {
	d, _ := newDispatcher()
	ctx := evalctx.New()
	p := promise.Promise{PromiseType: "unregistered", Promiser: promise.Scalar("x")}
	outcome, err := d.DispatchPromise(ctx, "default", "b", p)
	if err == nil {
		t.Fatalf("expected an error for unregistered actuator")
	}
	if outcome != promise.FAIL {
		t.Fatalf("expected FAIL outcome, got %v", outcome)
	}
}

func TestDispatch_VarsPromiseType_ActuatesTwice(t *testing.T) {
	d, _ := newDispatcher()
	act := &recordingActuator{outcome: promise.CHANGE}
	d.Caps.Register("vars", act)

	ctx := evalctx.New()
	p := promise.Promise{PromiseType: "vars", Promiser: promise.Scalar("x")}
	if _, err := d.DispatchPromise(ctx, "default", "b", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(act.calls) != 2 {
		t.Fatalf("expected vars promise-type to actuate twice, got %d calls", len(act.calls))
	}
}

func TestDispatch_IterationFiresPerElement(t *testing.T) {
	d, _ := newDispatcher()
	act := &recordingActuator{outcome: promise.CHANGE}
	d.Caps.Register("files", act)

	ctx := evalctx.New()
	ctx.PushFrame(evalctx.FrameBundle, "b", "default", "b")
	ctx.VariablePut("bundle", "list", evalctx.Variable{
		Value: promise.List(promise.Scalar("a"), promise.Scalar("b")),
	})

	p := promise.Promise{PromiseType: "files", Promiser: promise.Scalar("/tmp/$(list)")}
	if _, err := d.DispatchPromise(ctx, "default", "b", p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(act.calls) != 2 || act.calls[0] != "/tmp/a" || act.calls[1] != "/tmp/b" {
		t.Fatalf("expected /tmp/a then /tmp/b, got %v", act.calls)
	}
}
