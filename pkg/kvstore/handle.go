package kvstore

import (
	"database/sql"
	"fmt"
	"time"
)

// Handle is a caller's reference-counted view onto one named database
//. Close must be called exactly once per
// successful Open.
type Handle struct {
	id       ID
	registry *Registry
	h        *handle
	closed   bool
}

// Close commits pending writes (SQLite autocommits per-statement here, so
// this is a no-op beyond bookkeeping) and decrements the reference count.
func (hd *Handle) Close() error {
	if hd.closed {
		return nil
	}
	hd.closed = true
	return hd.registry.release(hd.id)
}

func (hd *Handle) conn() *sql.DB { return hd.h.db.sql }

// Read returns the value stored at key, or ok=false if absent.
func (hd *Handle) Read(key []byte) (value []byte, ok bool, err error) {
	row := hd.conn().QueryRow(`SELECT value FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Write stores value at key, overwriting any existing entry.
func (hd *Handle) Write(key, value []byte) error {
	_, err := hd.conn().Exec(
		`INSERT INTO kv(key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	return err
}

// Delete removes key, if present.
func (hd *Handle) Delete(key []byte) error {
	_, err := hd.conn().Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Has reports whether key is present.
func (hd *Handle) Has(key []byte) (bool, error) {
	var n int
	err := hd.conn().QueryRow(`SELECT 1 FROM kv WHERE key = ?`, key).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ValueSize returns the byte length of the value at key.
func (hd *Handle) ValueSize(key []byte) (int, bool, error) {
	value, ok, err := hd.Read(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return len(value), true, nil
}

// Predicate decides, given the existing value (nil if absent), whether an
// Overwrite should proceed.
type Predicate func(existing []byte, exists bool) bool

// Overwrite conditionally writes value at key, only if predicate approves
// of the existing value. Used by actuators that must not clobber a value
// written concurrently by a peer.
func (hd *Handle) Overwrite(key, value []byte, predicate Predicate) (wrote bool, err error) {
	existing, exists, err := hd.Read(key)
	if err != nil {
		return false, err
	}
	if !predicate(existing, exists) {
		return false, nil
	}
	return true, hd.Write(key, value)
}

// LoadIntoMap materializes the entire database into an in-memory mapping
//, keyed by string(key).
func (hd *Handle) LoadIntoMap() (map[string][]byte, error) {
	rows, err := hd.conn().Query(`SELECT key, value FROM kv`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]byte)
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[string(k)] = v
	}
	return out, rows.Err()
}

// Cursor iterates keys in ascending order via `open_cursor`/`advance`.
type Cursor struct {
	rows    *sql.Rows
	key     []byte
	value   []byte
	handle  *Handle
	started bool
}

// OpenCursor opens a forward cursor over every key, ordered ascending.
func (hd *Handle) OpenCursor() (*Cursor, error) {
	rows, err := hd.conn().Query(`SELECT key, value FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	return &Cursor{rows: rows, handle: hd}, nil
}

// Advance moves the cursor to the next entry, returning false at EOF.
func (c *Cursor) Advance() (bool, error) {
	if !c.rows.Next() {
		return false, c.rows.Err()
	}
	if err := c.rows.Scan(&c.key, &c.value); err != nil {
		return false, err
	}
	c.started = true
	return true, nil
}

// Key and Value return the cursor's current position.
func (c *Cursor) Key() []byte   { return c.key }
func (c *Cursor) Value() []byte { return c.value }

// DeleteCurrent deletes the row the cursor currently points at.
func (c *Cursor) DeleteCurrent() error {
	if !c.started {
		return fmt.Errorf("kvstore: cursor: DeleteCurrent before Advance")
	}
	return c.handle.Delete(c.key)
}

// WriteCurrent overwrites the value at the cursor's current key.
func (c *Cursor) WriteCurrent(value []byte) error {
	if !c.started {
		return fmt.Errorf("kvstore: cursor: WriteCurrent before Advance")
	}
	return c.handle.Write(c.key, value)
}

// CloseCursor releases the cursor's underlying rows.
func (c *Cursor) CloseCursor() error {
	return c.rows.Close()
}
