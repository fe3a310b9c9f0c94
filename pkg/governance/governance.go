// Package governance implements an optional guardrail hook consulted by
// the dispatcher (C4) after a promise's class guard passes and before
// actuation: a Rego policy that returns a non-empty `deny` set turns the
// promise's outcome into DENIED.
package governance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Policy is one named Rego guardrail, compiled at load time.
type Policy struct {
	Name string
	Rego string
}

type compiledPolicy struct {
	policy  Policy
	pkgName string
}

// Hook implements dispatch.GovernanceHook by evaluating every loaded
// policy's `deny` rule against the candidate promise.
type Hook struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// New creates an empty hook; call Load for each guardrail policy.
func New(logger zerolog.Logger) *Hook {
	return &Hook{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "governance").Logger(),
	}
}

// Load parses and stores a Rego guardrail policy.
func (h *Hook) Load(p Policy) error {
	if _, err := ast.ParseModule(p.Name, p.Rego); err != nil {
		return fmt.Errorf("governance: parse policy %q: %w", p.Name, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policies[p.Name] = &compiledPolicy{policy: p, pkgName: packageName(p.Rego)}
	return nil
}

func packageName(regoSrc string) string {
	for _, line := range strings.Split(regoSrc, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package ") {
			if parts := strings.Fields(line); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "coldcfg.policies"
}

// promiseInput is the Rego input document describing the candidate promise.
type promiseInput struct {
	PromiseType string            `json:"promise_type"`
	Promiser    string            `json:"promiser"`
	Bundle      string            `json:"bundle"`
	Constraints map[string]string `json:"constraints"`
	DryRun      bool              `json:"dry_run"`
}

// Check evaluates every loaded policy's deny set; a non-empty set from any
// policy denies the promise.
func (h *Hook) Check(ctx *evalctx.Context, p *promise.Promise) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.policies) == 0 {
		return true, nil
	}

	input := promiseInput{
		PromiseType: p.PromiseType,
		Promiser:    p.Promiser.Scalar,
		Constraints: constraintsAsStrings(p.Constraints),
	}

	evalCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, cp := range h.policies {
		query := fmt.Sprintf("data.%s.deny", cp.pkgName)
		r := rego.New(
			rego.Module(cp.policy.Name, cp.policy.Rego),
			rego.Query(query),
			rego.Input(input),
		)
		results, err := r.Eval(evalCtx)
		if err != nil {
			return false, fmt.Errorf("governance: evaluate %q: %w", cp.policy.Name, err)
		}
		for _, res := range results {
			for _, expr := range res.Expressions {
				if denySet, ok := expr.Value.([]interface{}); ok && len(denySet) > 0 {
					h.logger.Warn().Str("policy", cp.policy.Name).Str("promiser", input.Promiser).Msg("promise denied by governance policy")
					return false, nil
				}
			}
		}
	}
	return true, nil
}

func constraintsAsStrings(cs []promise.Constraint) map[string]string {
	out := make(map[string]string, len(cs))
	for _, c := range cs {
		if c.Rval.Kind == promise.KindScalar {
			out[c.Lval] = c.Rval.Scalar
		}
	}
	return out
}
