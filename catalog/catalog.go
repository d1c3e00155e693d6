// Package catalog loads and indexes the request-to-response mapping that
// the UDS Responder consults before falling back to its default synthesizer.
package catalog

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"doipsim/logging"
)

// Entry is one record of the configuration document: a request/response
// pair expressed as hex strings.
type Entry struct {
	Req string `json:"req"`
	Res string `json:"res"`
}

// Catalog is a thread-safe, exact-match request-to-response index.
// It is loaded once at construction and treated as read-only by every
// Client Session; Reload swaps the index wholesale under a brief lock.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string][]byte
	path    string
}

// New returns an empty catalog, not bound to any file.
func New() *Catalog {
	return &Catalog{entries: make(map[string][]byte)}
}

// Load reads a JSON document of {req, res} records from path and returns a
// populated Catalog. A missing or malformed file is not fatal: per spec,
// the catalog is left empty and the caller proceeds with default synthesis.
func Load(path string) (*Catalog, error) {
	c := &Catalog{entries: make(map[string][]byte), path: path}
	if err := c.reloadLocked(); err != nil {
		logging.DebugLog("catalog", "load %s: %v (proceeding with empty catalog)", path, err)
	}
	return c, nil
}

// Reload re-reads the catalog's backing file and atomically replaces its
// contents. Safe to call between start()/stop() cycles; not intended to run
// concurrently with live diagnostic traffic on the same instance.
func (c *Catalog) Reload(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	return c.reloadLocked()
}

// reloadLocked must be called with c.mu held for writing, or during
// single-threaded construction.
func (c *Catalog) reloadLocked() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		c.entries = make(map[string][]byte)
		if os.IsNotExist(err) {
			return fmt.Errorf("catalog file not found: %w", err)
		}
		return fmt.Errorf("catalog file read: %w", err)
	}

	var raw []Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		c.entries = make(map[string][]byte)
		return fmt.Errorf("catalog json decode: %w", err)
	}

	entries := make(map[string][]byte, len(raw))
	for _, e := range raw {
		reqKey, err := canonicalizeHex(e.Req)
		if err != nil {
			logging.DebugLog("catalog", "skipping entry with invalid req %q: %v", e.Req, err)
			continue
		}
		resBytes, err := hex.DecodeString(strings.TrimSpace(e.Res))
		if err != nil {
			logging.DebugLog("catalog", "skipping entry with invalid res %q: %v", e.Res, err)
			continue
		}
		entries[reqKey] = resBytes // last-wins on duplicate keys
	}

	c.entries = entries
	return nil
}

// canonicalizeHex validates and uppercases a hex string, rejecting
// non-hex or odd-length input.
func canonicalizeHex(s string) (string, error) {
	s = strings.TrimSpace(s)
	if _, err := hex.DecodeString(s); err != nil {
		return "", err
	}
	return strings.ToUpper(s), nil
}

// Lookup returns the configured response for a request payload, and
// whether an entry was found. requestBytes need not be pre-canonicalized.
func (c *Catalog) Lookup(requestBytes []byte) ([]byte, bool) {
	key := strings.ToUpper(hex.EncodeToString(requestBytes))
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(res))
	copy(out, res)
	return out, true
}

// Size returns the number of loaded entries.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
