package locks

import (
	"testing"
	"time"

	"github.com/coldcfg/coldcfg/pkg/kvstore"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	kv := kvstore.NewRegistry(dir, "")
	return NewRegistry(kv, dir)
}

func TestLocks_AcquireRelease_ThenTooSoon(t *testing.T) {
	r := newTestRegistry(t)
	key := Key("default", "mybundle", "commands", "/bin/true", nil)

	held, outcome, err := r.Acquire(key, time.Minute, time.Minute, false)
	if err != nil || outcome != Acquired {
		t.Fatalf("expected first acquire to succeed, got outcome=%v err=%v", outcome, err)
	}
	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, outcome, err = r.Acquire(key, time.Minute, time.Minute, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != TooSoon {
		t.Fatalf("expected TOO_SOON within ifelapsed window, got %v", outcome)
	}
}

func TestLocks_IgnoreLocksBypassesIfelapsed(t *testing.T) {
	r := newTestRegistry(t)
	key := Key("default", "mybundle", "commands", "/bin/true", nil)

	held, _, _ := r.Acquire(key, time.Minute, time.Minute, false)
	_ = held.Release()

	_, outcome, err := r.Acquire(key, time.Minute, time.Minute, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Acquired {
		t.Fatalf("expected ignoreLocks to bypass TOO_SOON, got %v", outcome)
	}
}

func TestLocks_StaleLockIsStealable(t *testing.T) {
	r := newTestRegistry(t)
	key := Key("default", "mybundle", "commands", "/bin/true", nil)

	h, err := r.kv.Open(kvstore.DBLocks)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	staleTime := time.Now().Add(-2 * time.Minute).Unix()
	_ = h.Write(lockKeyName(key), encodeUnix(staleTime))
	_ = h.Close()

	held, outcome, err := r.Acquire(key, 0, time.Minute, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != Acquired {
		t.Fatalf("expected stale lock (expireafter exceeded) to be stealable, got %v", outcome)
	}
	_ = held.Release()
}

func TestKey_StableForSameInputs(t *testing.T) {
	k1 := Key("default", "b", "files", "/etc/motd", map[string]string{"mode": "0644"})
	k2 := Key("default", "b", "files", "/etc/motd", map[string]string{"mode": "0644"})
	if k1 != k2 {
		t.Fatalf("expected deterministic key, got %q vs %q", k1, k2)
	}
}
