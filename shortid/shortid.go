// Package shortid maps full logical element IDs to fixed-length,
// token-efficient aliases for budget-constrained consumers (LLM prompts).
// The mapping is bijective within one session and supports prefix lookup
// for truncation-tolerant protocols.
package shortid

import (
	"hash/fnv"
	"strings"
	"sync"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DefaultLength is the short-ID length used when none is configured.
const DefaultLength = 6

// Codec is a session-scoped short-ID table. Safe for concurrent use.
type Codec struct {
	mu      sync.RWMutex
	length  int
	toShort map[string]string
	toFull  map[string]string
}

// New creates a Codec producing short IDs of the given length.
// Lengths below 4 are raised to 4 to keep the collision space workable.
func New(length int) *Codec {
	if length <= 0 {
		length = DefaultLength
	}
	if length < 4 {
		length = 4
	}
	return &Codec{
		length:  length,
		toShort: make(map[string]string),
		toFull:  make(map[string]string),
	}
}

// Compress returns the short alias for a full ID, allocating one on first
// use. The alias is stable for the lifetime of the session: repeated calls
// return the same value.
func (c *Codec) Compress(fullID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.toShort[fullID]; ok {
		return s
	}

	// Base-36 digest of the full ID, linear-probed past collisions so the
	// table stays bijective.
	for probe := uint64(0); ; probe++ {
		s := digest(fullID, probe, c.length)
		if _, taken := c.toFull[s]; !taken {
			c.toShort[fullID] = s
			c.toFull[s] = fullID
			return s
		}
	}
}

// Resolve returns the full ID for a short ID. A strict prefix of a short ID
// is accepted as a fallback, but only when it identifies exactly one entry;
// an ambiguous prefix resolves to absent rather than a wrong match.
func (c *Codec) Resolve(shortID string) (string, bool) {
	if shortID == "" {
		return "", false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if full, ok := c.toFull[shortID]; ok {
		return full, true
	}

	if len(shortID) >= c.length {
		return "", false
	}

	var match string
	for s, full := range c.toFull {
		if strings.HasPrefix(s, shortID) {
			if match != "" {
				return "", false // ambiguous
			}
			match = full
		}
	}
	return match, match != ""
}

// Release removes a full ID from the table. Called when a logical ID is
// deleted; the alias is never handed to a different full ID afterwards only
// by chance, so releases should coincide with ID retirement.
func (c *Codec) Release(fullID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.toShort[fullID]; ok {
		delete(c.toShort, fullID)
		delete(c.toFull, s)
	}
}

// Len returns the number of live mappings.
func (c *Codec) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.toFull)
}

func digest(fullID string, probe uint64, length int) string {
	h := fnv.New64a()
	h.Write([]byte(fullID))
	if probe > 0 {
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(probe >> (8 * i))
		}
		h.Write(buf[:])
	}

	v := h.Sum64()
	b := make([]byte, length)
	for i := range b {
		b[i] = alphabet[v%36]
		v /= 36
	}
	return string(b)
}
