package builtin

import (
	"fmt"
	"io"
	"os"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Reports actuates the "reports" promise-type: the promiser is the
// already-expanded message to print. Spec §1 scopes the actual log
// formatting/delivery layer out of the engine's core as an external
// collaborator, but a minimal actuator is needed to make the promiser
// string observable at all (spec §8 scenarios S1/S2 depend on a
// "reports" promise producing output). Printing never mutates host
// state, so Reports always yields NOOP, dry-run or not.
type Reports struct {
	// Out is where the message is written; nil defaults to os.Stdout.
	Out io.Writer
}

func (r Reports) Actuate(ctx *evalctx.Context, p *promise.Promise, dryRun bool) (promise.Outcome, error) {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintln(out, p.Promiser.String())
	return promise.NOOP, nil
}
