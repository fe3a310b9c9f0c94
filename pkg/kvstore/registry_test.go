package kvstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegistry_WriteReadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, "")

	h, err := reg.Open(DBState)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	if err := h.Write([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, ok, err := h.Read([]byte("k1"))
	if err != nil || !ok {
		t.Fatalf("expected read to find k1, err=%v ok=%v", err, ok)
	}
	if string(v) != "v1" {
		t.Fatalf("expected v1, got %q", v)
	}
}

func TestRegistry_WriteTwiceKeepsSecondValue(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, "")
	h, err := reg.Open(DBState)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	_ = h.Write([]byte("k"), []byte("first"))
	_ = h.Write([]byte("k"), []byte("second"))

	v, _, _ := h.Read([]byte("k"))
	if string(v) != "second" {
		t.Fatalf("expected second, got %q", v)
	}
	size, _, _ := h.ValueSize([]byte("k"))
	if size != len("second") {
		t.Fatalf("expected size %d, got %d", len("second"), size)
	}
}

func TestRegistry_RefCounting(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, "")

	h1, err := reg.Open(DBLocks)
	if err != nil {
		t.Fatalf("open 1: %v", err)
	}
	h2, err := reg.Open(DBLocks)
	if err != nil {
		t.Fatalf("open 2: %v", err)
	}
	if err := h1.Close(); err != nil {
		t.Fatalf("close 1: %v", err)
	}
	// h2 still open; a third open should reuse the same underlying db.
	h3, err := reg.Open(DBLocks)
	if err != nil {
		t.Fatalf("open 3 should succeed while h2 still holds a reference: %v", err)
	}
	_ = h2.Close()
	_ = h3.Close()
}

func TestRegistry_CursorIteratesAscending(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, "")
	h, err := reg.Open(DBVariables)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer h.Close()

	for _, k := range []string{"b", "a", "c"} {
		_ = h.Write([]byte(k), []byte("v-"+k))
	}
	cur, err := h.OpenCursor()
	if err != nil {
		t.Fatalf("open cursor: %v", err)
	}
	defer cur.CloseCursor()

	var got []string
	for {
		ok, err := cur.Advance()
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(cur.Key()))
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ascending order %v, got %v", want, got)
		}
	}
}

func TestRegistry_RepairFlagFile_RemovedAfterCheck(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry(dir, "")
	flag := filepath.Join(dir, "cf_repair")
	if err := os.WriteFile(flag, []byte{}, 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if err := reg.CheckRepairFlag([]ID{DBState}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(flag); !os.IsNotExist(err) {
		t.Fatalf("expected repair flag to be removed")
	}
}
