package parser

import (
	"os"
	"testing"

	"github.com/coldcfg/coldcfg/pkg/promise"
)

func TestLoadFileScalarAndList(t *testing.T) {
	src := `
bundles: [{
	name: "main"
	type: "agent"
	sections: [{
		promiseType: "reports"
		promises: [{
			promiser: "hello"
			constraints: {friend_from: ["a", "b"]}
		}]
	}]
}]
bodies: []
`
	dir := t.TempDir()
	path := dir + "/main.cue"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New()
	pol, err := p.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(pol.Bundles) != 1 || pol.Bundles[0].Name != "main" {
		t.Fatalf("unexpected bundles: %+v", pol.Bundles)
	}
	promises := pol.Bundles[0].Sections[0].Promises
	if len(promises) != 1 || promises[0].Promiser.Scalar != "hello" {
		t.Fatalf("unexpected promise: %+v", promises)
	}
	friends := promises[0].Constraints[0].Rval
	if friends.Kind != promise.KindList || len(friends.List) != 2 {
		t.Fatalf("expected list constraint, got %+v", friends)
	}
}

func TestConvertRvalFunctionCall(t *testing.T) {
	v := map[string]any{"fn": "readfile", "args": []any{"/etc/motd", "1024"}}
	rv, err := convertRval(v)
	if err != nil {
		t.Fatal(err)
	}
	if rv.Kind != promise.KindFnCall || rv.FnName != "readfile" || len(rv.FnArgs) != 2 {
		t.Fatalf("unexpected rval: %+v", rv)
	}
}

func TestDetectBodyCyclesRejectsCycle(t *testing.T) {
	bodies := []promise.Body{
		{Name: "a", Namespace: "default", Type: "perms", InheritsFrom: []string{"b"}},
		{Name: "b", Namespace: "default", Type: "perms", InheritsFrom: []string{"a"}},
	}
	if err := detectBodyCycles(bodies); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestDetectBodyCyclesAcceptsDAG(t *testing.T) {
	bodies := []promise.Body{
		{Name: "a", Namespace: "default", Type: "perms", InheritsFrom: []string{"b"}},
		{Name: "b", Namespace: "default", Type: "perms"},
	}
	if err := detectBodyCycles(bodies); err != nil {
		t.Fatalf("unexpected cycle error: %v", err)
	}
}

func TestFailsafePolicyConverges(t *testing.T) {
	pol := Failsafe()
	if len(pol.Bundles) != 1 || len(pol.Bundles[0].Sections) != 0 {
		t.Fatalf("unexpected failsafe shape: %+v", pol)
	}
}
