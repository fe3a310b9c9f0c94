// Package drift reports promises that would change on the next run without
// actuating them, built directly on the dispatcher's existing dry-run
// outcome rather than a separate desired-vs-actual diff engine: WARN
// already means "would change" per the outcome lattice, so drift
// detection is dry-run dispatch plus a filter, not a new comparator.
package drift

import (
	"github.com/coldcfg/coldcfg/pkg/dispatch"
	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Finding records one promise whose actuator reported it would change.
type Finding struct {
	Namespace   string
	Bundle      string
	PromiseType string
	Promiser    string
	Outcome     promise.Outcome
}

// Report is the outcome of a single drift scan.
type Report struct {
	Findings []Finding
	Outcome  promise.Outcome
}

// Detect walks the policy in dry-run mode and collects every promise whose
// actuator reported WARN (would change) or FAIL/DENIED, without mutating
// any managed state.
func Detect(ctx *evalctx.Context, d *dispatch.Dispatcher, policy *promise.Policy) (*Report, error) {
	scan := &dispatch.Dispatcher{
		Caps:       d.Caps,
		Funcs:      d.Funcs,
		Bodies:     d.Bodies,
		Governance: d.Governance,
		DryRun:     true,
	}

	report := &Report{}
	for _, b := range policy.Bundles {
		for _, s := range b.Sections {
			for _, p := range s.Promises {
				p.PromiseType = s.PromiseType
				outcome, err := scan.DispatchPromise(ctx, b.Namespace, b.Name, p)
				if err != nil {
					return nil, err
				}
				report.Outcome = promise.Aggregate(report.Outcome, outcome)
				if outcome == promise.NOOP || outcome == promise.SKIPPED {
					continue
				}
				report.Findings = append(report.Findings, Finding{
					Namespace:   b.Namespace,
					Bundle:      b.Name,
					PromiseType: s.PromiseType,
					Promiser:    p.Promiser.String(),
					Outcome:     outcome,
				})
			}
		}
	}
	return report, nil
}
