// ABOUTME: Charm KV client wrapper for the cloud-synced corpus backend
// ABOUTME: Stores corpus entries as JSON; auto sync runs after writes and once per Batch
package charm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/charm/kv"
)

// EntryPrefix namespaces corpus entries in the KV store
const EntryPrefix = "entry:"

// Config holds charm client configuration
type Config struct {
	Host     string
	DBName   string
	AutoSync bool
}

// DefaultHost is the charm server run for the 2389-research fork
const DefaultHost = "charm.2389.dev"

// DefaultConfig returns default configuration for charm client
func DefaultConfig() *Config {
	host := os.Getenv("CHARM_HOST")
	if host == "" {
		host = DefaultHost
	}
	return &Config{
		Host:     host,
		DBName:   "kbdistill",
		AutoSync: true,
	}
}

// backend is the part of *kv.KV the client drives
type backend interface {
	Set(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Keys() ([][]byte, error)
	Sync() error
	Close() error
}

var _ backend = (*kv.KV)(nil)

// Client wraps charm KV for corpus operations. It is safe for concurrent use
// within one process.
type Client struct {
	kv       backend
	autoSync bool

	mu       sync.Mutex
	batching int
	dirty    bool
}

// NewClient opens the charm KV database named in cfg, authenticating with the
// local charm SSH key
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	// kv reads the host from the environment
	if cfg.Host != "" {
		os.Setenv("CHARM_HOST", cfg.Host)
	}

	db, err := kv.OpenWithDefaults(cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	c := newClient(db, cfg.AutoSync)
	// Pull remote entries before the first query
	if cfg.AutoSync {
		_ = db.Sync()
	}
	return c, nil
}

func newClient(b backend, autoSync bool) *Client {
	return &Client{kv: b, autoSync: autoSync}
}

// Close closes the KV database, flushing a pending batched sync
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.kv == nil {
		return nil
	}
	if c.dirty && c.autoSync {
		_ = c.kv.Sync()
	}
	err := c.kv.Close()
	c.kv = nil
	return err
}

// afterWrite syncs, or marks the client dirty while a Batch is running. Callers hold mu.
func (c *Client) afterWrite() {
	if !c.autoSync {
		return
	}
	if c.batching > 0 {
		c.dirty = true
		return
	}
	_ = c.kv.Sync()
}

// Batch runs fn with auto sync deferred, then syncs once if fn wrote anything.
// Batches may nest; only the outermost one syncs.
func (c *Client) Batch(fn func() error) error {
	c.mu.Lock()
	c.batching++
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.batching--
	if c.batching == 0 && c.dirty {
		c.dirty = false
		if c.kv != nil {
			if syncErr := c.kv.Sync(); syncErr != nil && err == nil {
				err = fmt.Errorf("sync after batch: %w", syncErr)
			}
		}
	}
	return err
}

func (c *Client) set(key string, value []byte) error {
	if err := c.kv.Set([]byte(key), value); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	c.afterWrite()
	return nil
}

// SetJSON marshals and stores a value as JSON
func (c *Client) SetJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(key, data)
}

// GetJSON retrieves and unmarshals a JSON value
func (c *Client) GetJSON(key string, dest any) error {
	c.mu.Lock()
	data, err := c.kv.Get([]byte(key))
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("key not found: %s", key)
	}
	return json.Unmarshal(data, dest)
}

// UpdateJSON loads key into dest, applies fn and stores the result under one lock.
// Writers in other processes can still interleave between the read and the write.
func (c *Client) UpdateJSON(key string, dest any, fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.kv.Get([]byte(key))
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("key not found: %s", key)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}

	out, err := json.Marshal(dest)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.set(key, out)
}

// ListKeys returns all keys with the given prefix
func (c *Client) ListKeys(prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.kv.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var result []string
	for _, key := range keys {
		if keyStr := string(key); strings.HasPrefix(keyStr, prefix) {
			result = append(result, keyStr)
		}
	}
	return result, nil
}

// Has reports whether key exists
func (c *Client) Has(key string) (bool, error) {
	keys, err := c.ListKeys(key)
	if err != nil {
		return false, err
	}
	for _, k := range keys {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

// Sync pushes local writes and pulls remote ones
func (c *Client) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirty = false
	return c.kv.Sync()
}

// EntryKey generates a key for a corpus entry
func EntryKey(id string) string {
	return EntryPrefix + id
}

// EntryID strips the entry prefix from a key
func EntryID(key string) string {
	return strings.TrimPrefix(key, EntryPrefix)
}
