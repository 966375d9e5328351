// Package signature repairs multi-turn "thinking" state for model families
// that reject tool-calling turns whose preceding thinking block lacks a valid
// upstream-issued signature. Host-reconstructed history may have stripped or
// corrupted those signatures; the cache keeps the originals around so they can
// be reinjected byte-identically.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Signed is an exact thinking text together with its upstream signature.
// Signatures are bound to the exact text: a repair must reinject the bytes as
// issued, never a paraphrase.
type Signed struct {
	Text      string
	Signature string
}

// Cache maps (session key, exact thinking text) to signatures and remembers
// the last signed thinking per session. It is an explicit injectable object,
// scoped to the process or to a test, never a package singleton. Entries live
// for the cache lifetime; a new session key simply never hits old entries.
type Cache struct {
	mu    sync.Mutex
	exact map[string]string
	last  map[string]Signed
}

func NewCache() *Cache {
	return &Cache{
		exact: map[string]string{},
		last:  map[string]Signed{},
	}
}

// Put records a signed thinking text under the session key. The last-signed
// pointer resolves concurrent writers by last-write-wins.
func (c *Cache) Put(sessionKey, text, sig string) {
	if text == "" || sig == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exact[exactKey(sessionKey, text)] = sig
	c.last[sessionKey] = Signed{Text: text, Signature: sig}
}

// Exact returns the signature recorded for exactly this text under this
// session key. Entries never cross session-key boundaries even when the text
// coincidentally matches.
func (c *Cache) Exact(sessionKey, text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sig, ok := c.exact[exactKey(sessionKey, text)]
	return sig, ok
}

// LastSigned returns the most recently recorded signed thinking for the
// session, used when repairing a turn whose thinking was stripped entirely.
func (c *Cache) LastSigned(sessionKey string) (Signed, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	signed, ok := c.last[sessionKey]
	return signed, ok
}

// Invalidate forgets the session's last-signed entry after a terminal
// recovery closed the corrupted turn.
func (c *Cache) Invalidate(sessionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, sessionKey)
}

func exactKey(sessionKey, text string) string {
	h := sha256.New()
	h.Write([]byte(sessionKey))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
