package signature

import "github.com/tidwall/gjson"

// Collector accumulates thinking text across response chunks until a
// signature arrives, then stores the pair. One collector serves one upstream
// response, streamed or buffered.
type Collector struct {
	cache      *Cache
	sessionKey string
	pending    string
}

func NewCollector(cache *Cache, sessionKey string) *Collector {
	return &Collector{cache: cache, sessionKey: sessionKey}
}

// Observe scans one response payload for (thinking text, signature) pairs.
// The payload may be the raw upstream envelope or the unwrapped inner
// response.
func (c *Collector) Observe(payload []byte) {
	if c == nil || c.cache == nil || c.sessionKey == "" {
		return
	}
	parts := gjson.GetBytes(payload, "response.candidates.0.content.parts")
	if !parts.Exists() {
		parts = gjson.GetBytes(payload, "candidates.0.content.parts")
	}
	if !parts.IsArray() {
		return
	}
	for _, part := range parts.Array() {
		if part.Get("thought").Bool() {
			c.pending += part.Get("text").String()
		}
		sig := part.Get("thoughtSignature").String()
		if sig == "" {
			sig = part.Get("thought_signature").String()
		}
		if sig != "" && c.pending != "" {
			c.cache.Put(c.sessionKey, c.pending, sig)
			c.pending = ""
		}
	}
}
