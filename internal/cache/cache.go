// Package cache stores compile reports on disk keyed by a content digest.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion is bumped whenever the encoded report layout changes.
// Entries written under another schema read as misses.
const SchemaVersion uint16 = 1

// Digest identifies one cache entry.
type Digest [sha256.Size]byte

// String returns the lowercase hex form used for file names.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// IsZero reports whether d was never computed.
func (d Digest) IsZero() bool { return d == Digest{} }

// Key hashes parts separated by NUL, so ("ab","c") and ("a","bc") differ.
func Key(parts ...string) Digest {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// entry is the on-disk envelope.
type entry struct {
	Schema  uint16             `msgpack:"schema"`
	Created int64              `msgpack:"created"`
	Body    msgpack.RawMessage `msgpack:"body"`
}

// Disk is a directory of msgpack entries. Safe for concurrent use.
// A nil *Disk is a disabled cache: every Get misses and Put is a no-op.
type Disk struct {
	mu  sync.RWMutex
	dir string
}

// Open creates dir if needed and returns a cache rooted there.
func Open(dir string) (*Disk, error) {
	if dir == "" {
		return nil, errors.New("empty cache directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Disk{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Disk) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Disk) pathFor(key Digest) string {
	return filepath.Join(c.dir, "results", key.String()+".mp")
}

// Put encodes v and atomically replaces the entry for key.
func (c *Disk) Put(key Digest, v any) (err error) {
	if c == nil {
		return nil
	}
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	renamed := false
	defer func() {
		if renamed {
			return
		}
		if rmErr := os.Remove(f.Name()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}()

	enc := msgpack.NewEncoder(f)
	if err := enc.Encode(&entry{Schema: SchemaVersion, Created: time.Now().Unix(), Body: body}); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), p); err != nil {
		return err
	}
	renamed = true
	return nil
}

// Get decodes the entry for key into out. A missing entry or one written
// under another schema reports false with a nil error.
func (c *Disk) Get(key Digest, out any) (bool, error) {
	if c == nil {
		return false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	var e entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	if e.Schema != SchemaVersion {
		return false, nil
	}
	if err := msgpack.Unmarshal(e.Body, out); err != nil {
		return false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return true, nil
}

// Len counts stored entries.
func (c *Disk) Len() (int, error) {
	if c == nil {
		return 0, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	matches, err := filepath.Glob(filepath.Join(c.dir, "results", "*.mp"))
	if err != nil {
		return 0, err
	}
	return len(matches), nil
}

// DropAll removes every entry. The cache stays usable afterwards.
func (c *Disk) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// rename first so a concurrent reader never sees a half-removed tree
	old := c.dir + ".old-" + time.Now().Format("20060102150405.000000000")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(c.dir, 0o755)
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}
