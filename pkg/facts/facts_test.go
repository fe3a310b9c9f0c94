package facts

import (
	"context"
	"testing"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
)

func TestRegistryPopulateSeedsSysScope(t *testing.T) {
	r := NewRegistry()
	ectx := evalctx.New()

	if err := r.Populate(context.Background(), ectx); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	if _, ok := ectx.Sys.Get("os_arch"); !ok {
		t.Fatal("expected sys.os_arch to be populated")
	}
	if _, ok := ectx.Sys.Get("date_now"); !ok {
		t.Fatal("expected sys.date_now to be populated")
	}
}

func TestRegistryRegisterAddsCollector(t *testing.T) {
	r := NewRegistry()
	r.Register(constCollector{})
	ectx := evalctx.New()
	if err := r.Populate(context.Background(), ectx); err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if _, ok := ectx.Sys.Get("site_region"); !ok {
		t.Fatal("expected custom collector's sys.site_region to be populated")
	}
}

type constCollector struct{}

func (constCollector) Namespace() string { return "site" }

func (constCollector) Collect(ctx context.Context) (map[string]string, error) {
	return map[string]string{"region": "us-east"}, nil
}
