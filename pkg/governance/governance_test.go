package governance

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

func TestHook_NoPoliciesAllowsEverything(t *testing.T) {
	h := New(zerolog.Nop())
	ctx := evalctx.New()
	p := &promise.Promise{PromiseType: "commands", Promiser: promise.Scalar("rm -rf /")}
	allowed, err := h.Check(ctx, p)
	if err != nil || !allowed {
		t.Fatalf("expected allowed with no policies loaded, got allowed=%v err=%v", allowed, err)
	}
}

func TestHook_DenyRule_BlocksMatchingPromise(t *testing.T) {
	h := New(zerolog.Nop())
	err := h.Load(Policy{
		Name: "no-rm-rf",
		Rego: `package coldcfg.guardrails

deny[msg] {
	input.promise_type == "commands"
	contains(input.promiser, "rm -rf")
	msg := "destructive command blocked"
}
`,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx := evalctx.New()
	blocked := &promise.Promise{PromiseType: "commands", Promiser: promise.Scalar("rm -rf /data")}
	allowed, err := h.Check(ctx, blocked)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected rm -rf promise to be denied")
	}

	safe := &promise.Promise{PromiseType: "commands", Promiser: promise.Scalar("systemctl restart nginx")}
	allowed, err = h.Check(ctx, safe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected unrelated promise to be allowed")
	}
}
