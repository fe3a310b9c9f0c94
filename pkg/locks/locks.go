// Package locks implements the Lock Registry (C6): ifelapsed/expireafter
// rate-limiting and critical-section serialization across processes,
// backed by the Persistent KV Store.
//
// The KV database itself is shared across processes via its file format;
// the critical section additionally holds an exclusive advisory lock on a
// sibling `<db>.lock` file so two processes never race the read-modify-write
// of `last`/`lock` keys. No library in the retrieval pack offers
// process-exclusive file locking, so this one piece is built directly on
// syscall.Flock (see DESIGN.md).
package locks

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coldcfg/coldcfg/pkg/colderr"
	"github.com/coldcfg/coldcfg/pkg/kvstore"
)

// Key fingerprints a promise for lock purposes:
// hash(namespace, bundle, promise-type, expanded-promiser, selected-constraints)
//. Constraints that participate are the lock-relevant ones only
// (ifelapsed, expireafter, handle); callers pass whatever subset applies.
func Key(namespace, bundle, promiseType, expandedPromiser string, selectedConstraints map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s", namespace, bundle, promiseType, expandedPromiser)
	for _, k := range sortedKeys(selectedConstraints) {
		fmt.Fprintf(h, "\x00%s=%s", k, selectedConstraints[k])
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Outcome is the result of an Acquire attempt.
type Outcome int

const (
	Acquired Outcome = iota
	TooSoon
	LockedByOther
)

// Registry opens the `locks` KV database and an advisory file lock
// alongside it, and implements the acquisition protocol.
type Registry struct {
	mu       sync.Mutex
	kv       *kvstore.Registry
	stateDir string
	fileLock *os.File // held only for the duration of a critical section
}

// NewRegistry creates a lock registry rooted at the same state directory
// the KV registry uses.
func NewRegistry(kv *kvstore.Registry, stateDir string) *Registry {
	return &Registry{kv: kv, stateDir: stateDir}
}

// Held represents an acquired lock; the caller must call Release after the
// critical section completes.
type Held struct {
	key      string
	registry *Registry
	h        *kvstore.Handle
}

// Acquire implements the ifelapsed/expireafter protocol. ignoreLocks
// disables the ifelapsed rate limit (the daemon's --no-lock flag).
func (r *Registry) Acquire(key string, ifelapsed, expireafter time.Duration, ignoreLocks bool) (*Held, Outcome, error) {
	h, err := r.kv.Open(kvstore.DBLocks)
	if err != nil {
		return nil, 0, err
	}

	if err := r.lockFile(); err != nil {
		_ = h.Close()
		return nil, 0, err
	}

	now := time.Now().Unix()

	lastVal, lastOK, err := h.Read(lastKey(key))
	if err != nil {
		r.unlockFile()
		_ = h.Close()
		return nil, 0, err
	}
	if lastOK && !ignoreLocks {
		last := decodeUnix(lastVal)
		if time.Duration(now-last)*time.Second < ifelapsed {
			r.unlockFile()
			_ = h.Close()
			return nil, TooSoon, nil
		}
	}

	lockVal, lockOK, err := h.Read(lockKeyName(key))
	if err != nil {
		r.unlockFile()
		_ = h.Close()
		return nil, 0, err
	}
	if lockOK {
		held := decodeUnix(lockVal)
		if held != 0 {
			if time.Duration(now-held)*time.Second >= expireafter {
				// Prior holder crashed; steal the lock.
			} else {
				r.unlockFile()
				_ = h.Close()
				return nil, LockedByOther, nil
			}
		}
	}

	if err := h.Write(lockKeyName(key), encodeUnix(now)); err != nil {
		r.unlockFile()
		_ = h.Close()
		return nil, 0, err
	}

	return &Held{key: key, registry: r, h: h}, Acquired, nil
}

// Release writes `last = now` and clears `lock`, then releases the file
// lock and the KV handle.
func (held *Held) Release() error {
	now := time.Now().Unix()
	werr := held.h.Write(lastKey(held.key), encodeUnix(now))
	derr := held.h.Delete(lockKeyName(held.key))
	held.registry.unlockFile()
	cerr := held.h.Close()
	if werr != nil {
		return werr
	}
	if derr != nil {
		return derr
	}
	return cerr
}

func lastKey(key string) []byte    { return []byte("last" + key) }
func lockKeyName(key string) []byte { return []byte("lock" + key) }

func encodeUnix(t int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t))
	return b
}

func decodeUnix(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// lockFile acquires the process-wide exclusive advisory lock on
// `<state dir>/locks.sqlite.lock`, serializing the critical section across
// processes.
func (r *Registry) lockFile() error {
	r.mu.Lock()
	path := filepath.Join(r.stateDir, "locks.sqlite.lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("locks: open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		r.mu.Unlock()
		return fmt.Errorf("locks: flock: %w", err)
	}
	r.fileLock = f
	return nil
}

func (r *Registry) unlockFile() {
	if r.fileLock != nil {
		_ = syscall.Flock(int(r.fileLock.Fd()), syscall.LOCK_UN)
		_ = r.fileLock.Close()
		r.fileLock = nil
	}
	r.mu.Unlock()
}

// ToColdErr maps a non-Acquired outcome to the classified error the
// dispatcher surfaces as a SKIPPED promise.
func ToColdErr(o Outcome, key string) error {
	switch o {
	case TooSoon:
		return colderr.New(colderr.ClassLock, "lock not yet elapsed", nil).WithCode(colderr.CodeTooSoon).WithDetail("key", key)
	case LockedByOther:
		return colderr.New(colderr.ClassLock, "lock held by another process", nil).WithCode(colderr.CodeLockedByOther).WithDetail("key", key)
	default:
		return nil
	}
}

