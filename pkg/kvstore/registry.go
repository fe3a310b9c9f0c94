package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// handle is the registry's view of one open named database: a single
// long-lived connection, a reference count, and a frozen flag.
type handle struct {
	mu      sync.Mutex
	db      *db
	refs    int
	frozen  bool
	brokenOnce bool
}

// Registry owns every open named database for one state directory. Open
// and Close are concurrency-safe; callers share one Registry per daemon
// process.
type Registry struct {
	mu         sync.Mutex
	stateDir   string
	workDir    string // legacy read-only location, honored only if present
	handles    map[ID]*handle
}

// NewRegistry creates a registry rooted at stateDir, with an optional
// legacy workDir consulted only for databases that don't yet exist under
// stateDir.
func NewRegistry(stateDir, workDir string) *Registry {
	return &Registry{
		stateDir: stateDir,
		workDir:  workDir,
		handles:  make(map[ID]*handle),
	}
}

func (r *Registry) pathFor(id ID) string {
	newPath := filepath.Join(r.stateDir, string(id)+".sqlite")
	if _, err := os.Stat(newPath); err == nil {
		return newPath
	}
	if r.workDir != "" {
		legacy := filepath.Join(r.workDir, string(id)+".sqlite")
		if _, err := os.Stat(legacy); err == nil {
			return legacy
		}
	}
	return newPath
}

// Open returns a reference-counted handle for id, opening the backing file
// on first use. A frozen handle refuses further opens.
func (r *Registry) Open(id ID) (*Handle, error) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if !ok {
		h = &handle{}
		r.handles[id] = h
	}
	r.mu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.frozen {
		return nil, fmt.Errorf("kvstore: database %q is frozen", id)
	}
	if h.db == nil {
		d, err := openDB(r.pathFor(id))
		if err != nil {
			recovered, ok := r.recover(id, err)
			if !ok {
				h.frozen = true
				return nil, err
			}
			d = recovered
		}
		h.db = d
	}
	h.refs++
	return &Handle{id: id, registry: r, h: h}, nil
}

// recover implements the corruption-recovery path: rename the broken file
// to `<name>.broken` and create a fresh store. A second broken result
// marks the handle unusable.
func (r *Registry) recover(id ID, cause error) (*db, bool) {
	var ce *CorruptError
	if !asCorruptError(cause, &ce) {
		return nil, false
	}
	if h := r.handles[id]; h.brokenOnce {
		return nil, false
	}
	broken := ce.Path + ".broken"
	_ = os.Remove(broken)
	if err := os.Rename(ce.Path, broken); err != nil && !os.IsNotExist(err) {
		return nil, false
	}
	r.handles[id].brokenOnce = true
	d, err := openDB(ce.Path)
	if err != nil {
		return nil, false
	}
	return d, true
}

func asCorruptError(err error, target **CorruptError) bool {
	ce, ok := err.(*CorruptError)
	if ok {
		*target = ce
	}
	return ok
}

// release decrements the reference count, closing the underlying store
// when it reaches zero.
func (r *Registry) release(id ID) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
	if h.refs <= 0 && h.db != nil {
		err := h.db.close()
		h.db = nil
		return err
	}
	return nil
}

// Shutdown waits up to ~10 seconds, polling every 10ms, for outstanding
// references on every open database to drain, then force-closes whatever
// remains.
func (r *Registry) Shutdown() {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if r.outstandingRefs() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		h.mu.Lock()
		if h.db != nil {
			_ = h.db.close()
			h.db = nil
		}
		h.mu.Unlock()
	}
}

func (r *Registry) outstandingRefs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, h := range r.handles {
		h.mu.Lock()
		total += h.refs
		h.mu.Unlock()
	}
	return total
}

// CheckRepairFlag inspects stateDir for the well-known repair flag file; if
// present, it opens every known database id once (forcing migration /
// integrity verification) and then atomically removes the flag.
func (r *Registry) CheckRepairFlag(allIDs []ID) error {
	flagPath := filepath.Join(r.stateDir, "cf_repair")
	if _, err := os.Stat(flagPath); err != nil {
		return nil
	}
	for _, id := range allIDs {
		h, err := r.Open(id)
		if err != nil {
			continue
		}
		_ = h.Close()
	}
	tmp := flagPath + ".removing"
	if err := os.Rename(flagPath, tmp); err != nil {
		return err
	}
	return os.Remove(tmp)
}

// AllIDs lists every well-known database id.
func AllIDs() []ID {
	return []ID{
		DBClasses, DBVariables, DBPerformance, DBChecksums, DBFilestats,
		DBChanges, DBObservations, DBState, DBLastSeen, DBAudit, DBLocks,
		DBHistory, DBPackagesInstalled,
	}
}
