package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

type sample struct {
	Code   int
	Lines  []string
	Labels map[string]int
}

func TestKeySeparatesParts(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Fatalf("keys collide across part boundaries")
	}
	if Key("a", "b") != Key("a", "b") {
		t.Fatalf("Key is not deterministic")
	}
	if Key().IsZero() {
		t.Fatalf("empty key hashed to zero digest")
	}
	if len(Key("x").String()) != 64 {
		t.Fatalf("hex digest has wrong length")
	}
}

func TestPutGet(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key("dotnet8csharp", "class P {}")
	in := sample{Code: 0, Lines: []string{"mov eax, 1", "ret"}, Labels: map[string]int{"G_M1_IG01": 3}}
	if err := c.Put(key, &in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var out sample
	ok, err := c.Get(key, &out)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if out.Code != in.Code || len(out.Lines) != 2 || out.Lines[1] != "ret" || out.Labels["G_M1_IG01"] != 3 {
		t.Fatalf("Get = %+v, want %+v", out, in)
	}
	if n, _ := c.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	leftovers, _ := filepath.Glob(filepath.Join(c.Dir(), "results", "tmp-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestGetMiss(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var out sample
	ok, err := c.Get(Key("absent"), &out)
	if err != nil || ok {
		t.Fatalf("Get on empty cache: ok=%v err=%v", ok, err)
	}
}

func TestSchemaMismatchIsMiss(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key("old")
	body, err := msgpack.Marshal(&sample{Code: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	data, err := msgpack.Marshal(&entry{Schema: SchemaVersion + 1, Body: body})
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out sample
	ok, err := c.Get(key, &out)
	if err != nil || ok {
		t.Fatalf("Get: ok=%v err=%v, want miss", ok, err)
	}
}

func TestCorruptEntryErrors(t *testing.T) {
	c, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key("corrupt")
	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte{0xc1}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out sample
	if _, err := c.Get(key, &out); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDropAll(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, k := range []string{"a", "b"} {
		if err := c.Put(Key(k), &sample{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := c.DropAll(); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
	if n, _ := c.Len(); n != 0 {
		t.Fatalf("Len after DropAll = %d", n)
	}
	if err := c.Put(Key("c"), &sample{}); err != nil {
		t.Fatalf("Put after DropAll: %v", err)
	}
}

func TestNilCacheIsDisabled(t *testing.T) {
	var c *Disk
	if err := c.Put(Key("x"), &sample{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := c.Get(Key("x"), &sample{})
	if ok || err != nil {
		t.Fatalf("Get on nil cache: ok=%v err=%v", ok, err)
	}
	if err := c.DropAll(); err != nil {
		t.Fatalf("DropAll: %v", err)
	}
}
