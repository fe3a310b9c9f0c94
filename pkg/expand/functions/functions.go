// Package functions populates the expansion engine's built-in function
// table: the restricted function-call sublanguage. Most
// entries are small pure Go helpers; `starlark()` is the escape hatch for
// policy-supplied procedural logic.
package functions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"go.starlark.net/starlark"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
	"github.com/coldcfg/coldcfg/pkg/expand"
	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Register populates t with the default built-in function set.
func Register(t *expand.FuncTable) {
	t.Register(expand.FuncEntry{Name: "ifelse", MinArgs: 1, MaxArgs: -1, Fn: ifelseFn})
	t.Register(expand.FuncEntry{Name: "canonify", MinArgs: 1, MaxArgs: 1, Fn: canonifyFn})
	t.Register(expand.FuncEntry{Name: "concat", MinArgs: 0, MaxArgs: -1, Fn: concatFn})
	t.Register(expand.FuncEntry{Name: "join", MinArgs: 2, MaxArgs: 2, Fn: joinFn})
	t.Register(expand.FuncEntry{Name: "readfile", MinArgs: 1, MaxArgs: 2, Fn: readfileFn})
	t.Register(expand.FuncEntry{Name: "checksum_sha256", MinArgs: 1, MaxArgs: 1, Fn: checksumFn})
	t.Register(expand.FuncEntry{Name: "maplist", MinArgs: 2, MaxArgs: 2, Fn: maplistFn})
	t.Register(expand.FuncEntry{Name: "mapdata", MinArgs: 2, MaxArgs: 2, Fn: mapdataFn})
	t.Register(expand.FuncEntry{Name: "maparray", MinArgs: 2, MaxArgs: 2, Fn: maparrayFn})
	t.Register(expand.FuncEntry{Name: "starlark", MinArgs: 1, MaxArgs: 2, Fn: starlarkFn})
}

func scalarArg(args []promise.Rval, i int) (string, error) {
	if i >= len(args) || args[i].Kind != promise.KindScalar {
		return "", fmt.Errorf("argument %d must be a scalar", i)
	}
	return args[i].Scalar, nil
}

// ifelseFn returns the first argument that resolved (is not empty/unresolved
// syntax); if called with an odd final argument it is the unconditional
// fallback. This is the function the iteration engine always actuates at
// least once for.
func ifelseFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	for i := 0; i < len(args)-1; i += 2 {
		if args[i].Kind == promise.KindScalar && !looksUnresolved(args[i].Scalar) {
			return args[i], nil
		}
	}
	if len(args)%2 == 1 {
		return args[len(args)-1], nil
	}
	return promise.Empty, nil
}

func looksUnresolved(s string) bool {
	return strings.Contains(s, "$(") || strings.Contains(s, "${")
}

func canonifyFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	s, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	return promise.Scalar(evalctx.Canonicalize(s)), nil
}

func concatFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	var b strings.Builder
	for _, a := range args {
		b.WriteString(a.Scalar)
	}
	return promise.Scalar(b.String()), nil
}

func joinFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	sep, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	if args[1].Kind != promise.KindList {
		return promise.Empty, fmt.Errorf("join: second argument must be a list")
	}
	parts := make([]string, len(args[1].List))
	for i, item := range args[1].List {
		parts[i] = item.Scalar
	}
	return promise.Scalar(strings.Join(parts, sep)), nil
}

func readfileFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	path, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	maxBytes := int64(-1)
	if len(args) == 2 {
		var n string
		n, err = scalarArg(args, 1)
		if err == nil {
			fmt.Sscanf(n, "%d", &maxBytes)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return promise.Empty, fmt.Errorf("readfile %q: %w", path, err)
	}
	if maxBytes >= 0 && int64(len(data)) > maxBytes {
		data = data[:maxBytes]
	}
	return promise.Scalar(string(data)), nil
}

func checksumFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	path, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return promise.Empty, fmt.Errorf("checksum_sha256 %q: %w", path, err)
	}
	sum := sha256.Sum256(data)
	return promise.Scalar(hex.EncodeToString(sum[:])), nil
}

// maplist, mapdata, maparray are exempt from iterator-discovery pre-mangling
// so they are resolved here against already-bound arguments
// rather than being treated as a wheel source themselves.

func maplistFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	expr, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	if args[1].Kind != promise.KindList {
		return promise.Empty, fmt.Errorf("maplist: second argument must be a list")
	}
	out := make([]promise.Rval, len(args[1].List))
	for i, item := range args[1].List {
		out[i] = promise.Scalar(strings.ReplaceAll(expr, "$(this)", item.Scalar))
	}
	return promise.List(out...), nil
}

func mapdataFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	expr, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	if args[1].Kind != promise.KindList {
		return promise.Empty, fmt.Errorf("mapdata: second argument must be a list")
	}
	out := make([]any, len(args[1].List))
	for i, item := range args[1].List {
		out[i] = strings.ReplaceAll(expr, "$(this)", item.Scalar)
	}
	return promise.Container(out), nil
}

func maparrayFn(ctx *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	return mapdataFn(ctx, args)
}

// starlarkFn is the procedural escape hatch: it runs a short Starlark
// script with `this` bound to the remaining arguments and returns its
// declared `result` global as a scalar, under a bounded timeout with
// print suppressed.
func starlarkFn(_ *evalctx.Context, args []promise.Rval) (promise.Rval, error) {
	script, err := scalarArg(args, 0)
	if err != nil {
		return promise.Empty, err
	}
	var this starlark.Value = starlark.None
	if len(args) == 2 && args[1].Kind == promise.KindScalar {
		this = starlark.String(args[1].Scalar)
	}

	resultCh := make(chan starlark.Value, 1)
	errCh := make(chan error, 1)
	go func() {
		thread := &starlark.Thread{
			Name:  "coldcfg-expand",
			Print: func(*starlark.Thread, string) {},
		}
		globals, err := starlark.ExecFile(thread, "expand.star", script, starlark.StringDict{
			"this": this,
		})
		if err != nil {
			errCh <- err
			return
		}
		result, ok := globals["result"]
		if !ok {
			errCh <- fmt.Errorf("starlark script did not set a `result` global")
			return
		}
		resultCh <- result
	}()

	select {
	case <-time.After(5 * time.Second):
		return promise.Empty, fmt.Errorf("starlark function: execution timeout")
	case err := <-errCh:
		return promise.Empty, fmt.Errorf("starlark function: %w", err)
	case result := <-resultCh:
		return promise.Scalar(starlarkToString(result)), nil
	}
}

func starlarkToString(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
