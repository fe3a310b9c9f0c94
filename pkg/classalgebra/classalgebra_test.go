package classalgebra

import (
	"regexp"
	"testing"
)

type fakeLookup struct {
	defined map[string]bool
}

func (f *fakeLookup) IsDefined(name string) bool { return f.defined[name] }

func (f *fakeLookup) CountMatching(re *regexp.Regexp) int {
	n := 0
	for name := range f.defined {
		if f.defined[name] && re.MatchString(name) {
			n++
		}
	}
	return n
}

func TestEval_AnyNone(t *testing.T) {
	lk := &fakeLookup{defined: map[string]bool{}}
	v, err := Eval("any", lk)
	if err != nil || !v {
		t.Fatalf("any should always be true, got %v err %v", v, err)
	}
	v, err = Eval("none", lk)
	if err != nil || v {
		t.Fatalf("none should always be false, got %v err %v", v, err)
	}
}

func TestEval_ShortCircuitGuard(t *testing.T) {
	lk := &fakeLookup{defined: map[string]bool{"A": true, "B": true}}
	v, err := Eval("A.!B", lk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v {
		t.Fatalf("A.!B should be false when both A and B are defined")
	}
}

func TestEval_OrAndParens(t *testing.T) {
	lk := &fakeLookup{defined: map[string]bool{"linux": true}}
	v, err := Eval("(linux|windows)&&!darwin", lk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatalf("expected true for linux on (linux|windows)&&!darwin")
	}
}

func TestEval_ClassMatching(t *testing.T) {
	lk := &fakeLookup{defined: map[string]bool{"pkg_installed_nginx": true}}
	v, err := Eval("class_matching(/pkg_installed_.*/)", lk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatalf("expected class_matching to find pkg_installed_nginx")
	}
}

func TestEval_ClassCountRange(t *testing.T) {
	lk := &fakeLookup{defined: map[string]bool{"day_mon": true, "day_tue": true}}
	v, err := Eval("class_count(/day_.*/, 2..5)", lk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatalf("expected class_count in range 2..5 to match 2 classes")
	}
	v, err = Eval("class_count(/day_.*/, 3..5)", lk)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v {
		t.Fatalf("expected class_count in range 3..5 to not match 2 classes")
	}
}

func TestEval_InvalidSyntax(t *testing.T) {
	lk := &fakeLookup{defined: map[string]bool{}}
	if _, err := Eval("A &&", lk); err == nil {
		t.Fatalf("expected a parse error for dangling operator")
	}
}
