package kvstore

import (
	"encoding/json"
	"time"

	"github.com/coldcfg/coldcfg/pkg/evalctx"
)

// persistedClass is the JSON payload stored under a class's name in the
// classes database: its tags plus an absolute expiry instant (zero means
// no expiry).
type persistedClass struct {
	Tags      map[string]string `json:"tags,omitempty"`
	ExpiresAt time.Time         `json:"expires_at,omitempty"`
	Policy    int               `json:"policy"`
}

// PersistentClasses implements evalctx.PersistentClassStore on top of the
// classes named database, giving §4.1's class_put_persistent and §3's
// "every class present in a hard set with expiry <= now is removed on
// next reference" invariant a durable, cross-run backing store.
type PersistentClasses struct {
	h *Handle
}

// NewPersistentClasses wraps an open classes-database handle. Callers own
// the handle's lifetime and must Close it themselves.
func NewPersistentClasses(h *Handle) *PersistentClasses {
	return &PersistentClasses{h: h}
}

var _ evalctx.PersistentClassStore = (*PersistentClasses)(nil)

// PutClass stores name with its tags and, if ttl > 0, an absolute expiry.
// The ExpiryPolicy argument is recorded but merge/replace semantics on
// re-definition are delegated to the in-memory soft/hard layers; the KV
// copy always reflects the latest write.
func (p *PersistentClasses) PutClass(name string, tags map[string]string, ttl time.Duration, policy evalctx.ExpiryPolicy) error {
	rec := persistedClass{Tags: tags, Policy: int(policy)}
	if ttl > 0 {
		rec.ExpiresAt = time.Now().Add(ttl)
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return p.h.Write([]byte(name), value)
}

// IsClassDefined reports whether name is present and not expired. An
// expired entry is deleted as a side effect, matching the invariant that
// expired hard classes are removed on next reference rather than lingering
// until some separate sweep.
func (p *PersistentClasses) IsClassDefined(name string) (bool, error) {
	value, ok, err := p.h.Read([]byte(name))
	if err != nil || !ok {
		return false, err
	}
	var rec persistedClass
	if err := json.Unmarshal(value, &rec); err != nil {
		return false, err
	}
	if !rec.ExpiresAt.IsZero() && !rec.ExpiresAt.After(time.Now()) {
		_ = p.h.Delete([]byte(name))
		return false, nil
	}
	return true, nil
}
