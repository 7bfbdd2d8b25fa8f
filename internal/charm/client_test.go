// ABOUTME: Tests for the charm client over an in-memory backend
// ABOUTME: Covers JSON round trips, read-modify-write updates and batched auto sync
package charm

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type memBackend struct {
	mu     sync.Mutex
	data   map[string][]byte
	syncs  int
	closed bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string][]byte)}
}

func (m *memBackend) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (m *memBackend) Get(key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[string(key)], nil
}

func (m *memBackend) Keys() ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys [][]byte
	for k := range m.data {
		keys = append(keys, []byte(k))
	}
	return keys, nil
}

func (m *memBackend) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs++
	return nil
}

func (m *memBackend) Close() error {
	m.closed = true
	return nil
}

type entry struct {
	ID      string   `json:"id"`
	Sources []string `json:"sources"`
}

func TestClient_JSONRoundTrip(t *testing.T) {
	c := newClient(newMemBackend(), false)

	want := entry{ID: "kb-1", Sources: []string{"1", "2"}}
	if err := c.SetJSON(EntryKey("kb-1"), want); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var got entry
	if err := c.GetJSON(EntryKey("kb-1"), &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetJSON() mismatch (-want +got):\n%s", diff)
	}

	if err := c.GetJSON(EntryKey("missing"), &got); err == nil {
		t.Error("GetJSON(missing) error = nil, want error")
	}
}

func TestClient_UpdateJSON(t *testing.T) {
	c := newClient(newMemBackend(), false)
	key := EntryKey("kb-1")
	if err := c.SetJSON(key, entry{ID: "kb-1", Sources: []string{"1"}}); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var e entry
	err := c.UpdateJSON(key, &e, func() error {
		e.Sources = append(e.Sources, "2")
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateJSON() error = %v", err)
	}

	var got entry
	_ = c.GetJSON(key, &got)
	if diff := cmp.Diff([]string{"1", "2"}, got.Sources); diff != "" {
		t.Errorf("Sources mismatch (-want +got):\n%s", diff)
	}

	boom := errors.New("boom")
	err = c.UpdateJSON(key, &e, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("UpdateJSON() error = %v, want %v", err, boom)
	}
	if err := c.UpdateJSON(EntryKey("missing"), &e, func() error { return nil }); err == nil {
		t.Error("UpdateJSON(missing) error = nil, want error")
	}
}

func TestClient_ListKeysAndHas(t *testing.T) {
	c := newClient(newMemBackend(), false)
	for _, k := range []string{EntryKey("a"), EntryKey("b"), "other:c"} {
		if err := c.SetJSON(k, entry{}); err != nil {
			t.Fatalf("SetJSON(%s) error = %v", k, err)
		}
	}

	keys, err := c.ListKeys(EntryPrefix)
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}
	sort.Strings(keys)
	if diff := cmp.Diff([]string{"entry:a", "entry:b"}, keys); diff != "" {
		t.Errorf("ListKeys() mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{EntryKey("a"), true},
		{EntryKey(""), false},
		{EntryKey("z"), false},
	}
	for _, tt := range tests {
		got, err := c.Has(tt.key)
		if err != nil {
			t.Fatalf("Has(%q) error = %v", tt.key, err)
		}
		if got != tt.want {
			t.Errorf("Has(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestClient_AutoSync(t *testing.T) {
	b := newMemBackend()
	c := newClient(b, true)

	_ = c.SetJSON(EntryKey("a"), entry{})
	_ = c.SetJSON(EntryKey("b"), entry{})
	if b.syncs != 2 {
		t.Errorf("syncs = %d, want one per write", b.syncs)
	}

	off := newMemBackend()
	_ = newClient(off, false).SetJSON(EntryKey("a"), entry{})
	if off.syncs != 0 {
		t.Errorf("syncs with auto sync off = %d, want 0", off.syncs)
	}
}

func TestClient_BatchSyncsOnce(t *testing.T) {
	b := newMemBackend()
	c := newClient(b, true)

	err := c.Batch(func() error {
		for _, id := range []string{"a", "b", "c"} {
			if err := c.SetJSON(EntryKey(id), entry{ID: id}); err != nil {
				return err
			}
		}
		// Nested batches defer to the outermost
		return c.Batch(func() error { return c.SetJSON(EntryKey("d"), entry{}) })
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}
	if b.syncs != 1 {
		t.Errorf("syncs = %d, want 1", b.syncs)
	}

	// A batch that writes nothing does not sync
	_ = c.Batch(func() error { return nil })
	if b.syncs != 1 {
		t.Errorf("syncs after empty batch = %d, want 1", b.syncs)
	}
}

func TestClient_BatchError(t *testing.T) {
	b := newMemBackend()
	c := newClient(b, true)
	boom := errors.New("boom")

	err := c.Batch(func() error {
		_ = c.SetJSON(EntryKey("a"), entry{})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Batch() error = %v, want %v", err, boom)
	}
	if b.syncs != 1 {
		t.Errorf("syncs = %d, want written data synced despite the error", b.syncs)
	}
}

func TestClient_Close(t *testing.T) {
	b := newMemBackend()
	c := newClient(b, true)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !b.closed {
		t.Error("backend should be closed")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEntryKeyRoundTrip(t *testing.T) {
	key := EntryKey("abc-123")
	if key != "entry:abc-123" {
		t.Errorf("EntryKey() = %q, want entry:abc-123", key)
	}
	if got := EntryID(key); got != "abc-123" {
		t.Errorf("EntryID() = %q, want abc-123", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("CHARM_HOST", "")
	cfg := DefaultConfig()
	if cfg.Host != DefaultHost {
		t.Errorf("Host = %q, want %q", cfg.Host, DefaultHost)
	}
	if cfg.DBName != "kbdistill" {
		t.Errorf("DBName = %q, want kbdistill", cfg.DBName)
	}
	if !cfg.AutoSync {
		t.Error("AutoSync should default to true")
	}

	t.Setenv("CHARM_HOST", "charm.example.com")
	if got := DefaultConfig().Host; got != "charm.example.com" {
		t.Errorf("Host = %q, want charm.example.com", got)
	}
}
