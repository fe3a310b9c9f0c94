package evalctx

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// canonicalize turns arbitrary bytes into a class/variable-safe name:
// alphanumerics and `_` pass through, everything else becomes `_`.
func canonicalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Canonicalize exposes canonicalize for callers outside the package
// (the dispatcher canonicalizes explicit `handle` constraints with it).
func Canonicalize(name string) string { return canonicalize(name) }

// ExpiryPolicy controls what happens to a persistent class's tags when it
// is re-set before expiry.
type ExpiryPolicy int

const (
	ExpiryPreserve ExpiryPolicy = iota
	ExpiryReset
)

type classEntry struct {
	tags    map[string]string
	expires time.Time // zero means no expiry
}

// ClassSet holds a set of canonicalized class names with optional expiry
// and tags. The same type backs hard, soft, and persistent class sets;
// only hard and persistent sets carry meaningful expiry.
type ClassSet struct {
	mu      sync.RWMutex
	classes map[string]*classEntry
}

// NewClassSet allocates an empty set.
func NewClassSet() *ClassSet {
	return &ClassSet{classes: make(map[string]*classEntry)}
}

// Put adds or refreshes a class. A zero ttl means no expiry.
func (c *ClassSet) Put(name string, tags map[string]string, ttl time.Duration, policy ExpiryPolicy) {
	name = canonicalize(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	if existing, ok := c.classes[name]; ok && policy == ExpiryPreserve {
		if tags == nil {
			tags = existing.tags
		}
	}
	c.classes[name] = &classEntry{tags: tags, expires: expires}
}

// Is reports whether name is currently defined, purging it first if its
// expiry has passed.
func (c *ClassSet) Is(name string) bool {
	name = canonicalize(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.classes[name]
	if !ok {
		return false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(c.classes, name)
		return false
	}
	return true
}

// Remove deletes name unconditionally, backing the -N/--negate CLI flag.
func (c *ClassSet) Remove(name string) {
	name = canonicalize(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.classes, name)
}

// Names returns all currently-live class names, purging expired ones.
func (c *ClassSet) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	names := make([]string, 0, len(c.classes))
	for name, e := range c.classes {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(c.classes, name)
			continue
		}
		names = append(names, name)
	}
	return names
}

// CountMatching counts live classes whose canonicalized name matches re,
// backing the class_count(/re/, min..max) guard primitive.
func (c *ClassSet) CountMatching(re *regexp.Regexp) int {
	n := 0
	for _, name := range c.Names() {
		if re.MatchString(name) {
			n++
		}
	}
	return n
}
