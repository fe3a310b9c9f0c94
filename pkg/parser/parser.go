// Package parser loads policy documents into the immutable pkg/promise
// data model. It is the engine's external collaborator named in spec §1
// ("the policy parser... produces an abstract syntax tree consumed by the
// engine") made concrete: CUE describes and validates the bundle/body/
// promise shape, and decodes it into a promise.Policy.
package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/coldcfg/coldcfg/pkg/promise"
)

// Parser loads and validates CUE policy sources into a promise.Policy.
type Parser struct {
	ctx       *cue.Context
	validator *validator.Validate
}

// New creates a Parser.
func New() *Parser {
	return &Parser{
		ctx:       cuecontext.New(),
		validator: validator.New(),
	}
}

// LoadDir loads every bundle/body declaration under dir, unifying all CUE
// files in the directory into a single value.
func (p *Parser) LoadDir(dir string) (*promise.Policy, error) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return nil, fmt.Errorf("parser: no CUE files found under %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("parser: load %s: %w", dir, inst.Err)
	}
	val := p.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("parser: build %s: %w", dir, err)
	}
	return p.decode(val)
}

// LoadFile loads a single CUE policy file.
func (p *Parser) LoadFile(path string) (*promise.Policy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: read %s: %w", path, err)
	}
	val := p.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("parser: compile %s: %w", path, err)
	}
	return p.decode(val)
}

// document is the top-level CUE document shape: an ordered list of bundles
// and an ordered list of bodies.
type document struct {
	Bundles []bundleDoc `json:"bundles"`
	Bodies  []bodyDoc   `json:"bodies"`
}

type bundleDoc struct {
	Name      string         `json:"name" validate:"required"`
	Namespace string         `json:"namespace"`
	Type      string         `json:"type"`
	Params    []string       `json:"params"`
	Sections  []sectionDoc   `json:"sections"`
	File      string         `json:"-"`
}

type sectionDoc struct {
	PromiseType string       `json:"promiseType" validate:"required"`
	Promises    []promiseDoc `json:"promises"`
}

type promiseDoc struct {
	Promiser    any               `json:"promiser" validate:"required"`
	Promisee    any               `json:"promisee"`
	ClassGuard  string            `json:"if"`
	Handle      string            `json:"handle"`
	Constraints map[string]any    `json:"constraints"`
}

type bodyDoc struct {
	Name         string         `json:"name" validate:"required"`
	Namespace    string         `json:"namespace"`
	Type         string         `json:"type" validate:"required"`
	Params       []string       `json:"params"`
	InheritsFrom []string       `json:"inheritsFrom"`
	Constraints  map[string]any `json:"constraints"`
}

func (p *Parser) decode(val cue.Value) (*promise.Policy, error) {
	var doc document
	if err := val.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parser: decode: %w", err)
	}

	policy := &promise.Policy{}
	for _, bd := range doc.Bundles {
		b, err := p.convertBundle(bd)
		if err != nil {
			return nil, err
		}
		policy.Bundles = append(policy.Bundles, b)
	}
	for _, bod := range doc.Bodies {
		b, err := p.convertBody(bod)
		if err != nil {
			return nil, err
		}
		policy.Bodies = append(policy.Bodies, b)
	}
	if err := detectBodyCycles(policy.Bodies); err != nil {
		return nil, err
	}
	return policy, nil
}

func (p *Parser) convertBundle(bd bundleDoc) (promise.Bundle, error) {
	if err := p.validator.Struct(bd); err != nil {
		return promise.Bundle{}, fmt.Errorf("parser: bundle %q: %w", bd.Name, err)
	}
	ns := bd.Namespace
	if ns == "" {
		ns = "default"
	}
	b := promise.Bundle{
		Name:      bd.Name,
		Namespace: ns,
		Type:      bd.Type,
		Params:    bd.Params,
	}
	for _, sd := range bd.Sections {
		sec := promise.Section{PromiseType: sd.PromiseType}
		for i, pd := range sd.Promises {
			pr, err := p.convertPromise(ns, bd.Name, sd.PromiseType, i, pd)
			if err != nil {
				return promise.Bundle{}, err
			}
			sec.Promises = append(sec.Promises, pr)
		}
		b.Sections = append(b.Sections, sec)
	}
	return b, nil
}

func (p *Parser) convertPromise(ns, bundle, promiseType string, index int, pd promiseDoc) (promise.Promise, error) {
	promiser, err := convertRval(pd.Promiser)
	if err != nil {
		return promise.Promise{}, fmt.Errorf("parser: %s.%s[%d]: promiser: %w", bundle, promiseType, index, err)
	}
	promisee := promise.Empty
	if pd.Promisee != nil {
		promisee, err = convertRval(pd.Promisee)
		if err != nil {
			return promise.Promise{}, fmt.Errorf("parser: %s.%s[%d]: promisee: %w", bundle, promiseType, index, err)
		}
	}
	var constraints []promise.Constraint
	for _, lval := range sortedKeys(pd.Constraints) {
		rv, err := convertRval(pd.Constraints[lval])
		if err != nil {
			return promise.Promise{}, fmt.Errorf("parser: %s.%s[%d]: constraint %s: %w", bundle, promiseType, index, lval, err)
		}
		constraints = append(constraints, promise.Constraint{Lval: lval, Rval: rv})
	}
	id := evalctxFingerprint(ns, bundle, promiseType, index)
	return promise.Promise{
		ID:          id,
		Handle:      pd.Handle,
		PromiseType: promiseType,
		Promiser:    promiser,
		Promisee:    promisee,
		ClassGuard:  pd.ClassGuard,
		Constraints: constraints,
	}, nil
}

func (p *Parser) convertBody(bod bodyDoc) (promise.Body, error) {
	if err := p.validator.Struct(bod); err != nil {
		return promise.Body{}, fmt.Errorf("parser: body %q: %w", bod.Name, err)
	}
	ns := bod.Namespace
	if ns == "" {
		ns = "default"
	}
	var constraints []promise.Constraint
	for _, lval := range sortedKeys(bod.Constraints) {
		rv, err := convertRval(bod.Constraints[lval])
		if err != nil {
			return promise.Body{}, fmt.Errorf("parser: body %q constraint %s: %w", bod.Name, lval, err)
		}
		constraints = append(constraints, promise.Constraint{Lval: lval, Rval: rv})
	}
	return promise.Body{
		Name:         bod.Name,
		Namespace:    ns,
		Type:         bod.Type,
		Params:       bod.Params,
		InheritsFrom: bod.InheritsFrom,
		Constraints:  constraints,
	}, nil
}

// convertRval interprets a decoded CUE value as an Rval: a string becomes a
// scalar, a []any becomes a list, a map[string]any with a reserved "fn" key
// becomes a function call, and any other map becomes an opaque container
// (the JSON-input path of the data model); other types are an error.
func convertRval(v any) (promise.Rval, error) {
	switch t := v.(type) {
	case nil:
		return promise.Empty, nil
	case string:
		return promise.Scalar(t), nil
	case bool, int, int64, float64:
		return promise.Scalar(fmt.Sprintf("%v", t)), nil
	case []any:
		items := make([]promise.Rval, 0, len(t))
		for _, el := range t {
			rv, err := convertRval(el)
			if err != nil {
				return promise.Empty, err
			}
			items = append(items, rv)
		}
		return promise.List(items...), nil
	case map[string]any:
		if fn, ok := t["fn"]; ok {
			name, ok := fn.(string)
			if !ok {
				return promise.Empty, fmt.Errorf("function call %v: fn must be a string", t)
			}
			rawArgs, _ := t["args"].([]any)
			args := make([]promise.Rval, 0, len(rawArgs))
			for _, a := range rawArgs {
				rv, err := convertRval(a)
				if err != nil {
					return promise.Empty, err
				}
				args = append(args, rv)
			}
			return promise.FnCall(name, args...), nil
		}
		return promise.Container(t), nil
	default:
		return promise.Empty, fmt.Errorf("unsupported rvalue literal of type %T", v)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func evalctxFingerprint(ns, bundle, promiseType string, index int) string {
	return fmt.Sprintf("%s:%s.%s[%d]", ns, bundle, promiseType, index)
}

// detectBodyCycles walks the inherit_from DAG and fails the pass on a
// cycle, per §9's design note on cyclic references in the policy graph.
func detectBodyCycles(bodies []promise.Body) error {
	byKey := make(map[string]*promise.Body, len(bodies))
	for i := range bodies {
		b := &bodies[i]
		byKey[b.Namespace+":"+b.Type+"/"+b.Name] = b
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(bodies))
	var visit func(key string, stack []string) error
	visit = func(key string, stack []string) error {
		switch color[key] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("parser: cyclic body inheritance: %v -> %s", stack, key)
		}
		color[key] = gray
		if b, ok := byKey[key]; ok {
			for _, parentName := range b.InheritsFrom {
				parentKey := b.Namespace + ":" + b.Type + "/" + parentName
				if err := visit(parentKey, append(stack, key)); err != nil {
					return err
				}
			}
		}
		color[key] = black
		return nil
	}
	for key := range byKey {
		if err := visit(key, nil); err != nil {
			return err
		}
	}
	return nil
}

// ValidatedAt reports the mtime of the promises_validated_at marker file
// under stateDir, consulted by pkg/scheduler's ScheduleRun.
func ValidatedAt(stateDir string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(stateDir, "promises_validated_at"))
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// DirLoader adapts Parser to pkg/scheduler.PolicyLoader: it loads a fixed
// input directory and reports the validated-at marker from a fixed state
// directory. If the input directory is missing or fails to parse, Load
// falls back to the in-memory failsafe policy (spec §6).
type DirLoader struct {
	p        *Parser
	inputDir string
	stateDir string
}

// NewDirLoader creates a DirLoader.
func NewDirLoader(inputDir, stateDir string) *DirLoader {
	return &DirLoader{p: New(), inputDir: inputDir, stateDir: stateDir}
}

// Load parses the input directory, or returns the failsafe policy if the
// directory is missing or corrupt.
func (d *DirLoader) Load(ctx context.Context) (*promise.Policy, error) {
	if _, err := os.Stat(d.inputDir); err != nil {
		return Failsafe(), nil
	}
	pol, err := d.p.LoadDir(d.inputDir)
	if err != nil {
		return Failsafe(), err
	}
	return pol, nil
}

// ValidatedAt reports the validated-at marker under the loader's state
// directory.
func (d *DirLoader) ValidatedAt() (time.Time, error) {
	return ValidatedAt(d.stateDir)
}

// Failsafe returns the minimal built-in policy run when the input
// directory is missing or corrupt (spec §6): a single common bundle that
// defines no promises, so the agent still converges cleanly to NOOP.
func Failsafe() *promise.Policy {
	return &promise.Policy{
		Bundles: []promise.Bundle{
			{
				Name:      "failsafe",
				Namespace: "default",
				Type:      "common",
				Sections:  nil,
			},
		},
	}
}
