package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tidwall/gjson"
)

const sessionProvider = "antigravity"

// SessionKey partitions the signature cache: provider, model and project are
// joined with a content hash of the system prompt and the first and last user
// turns. An explicit conversation id, when the caller supplies one, replaces
// the content hash so history edits cannot fork the session.
func SessionKey(model, project string, payload []byte) string {
	parts := []string{sessionProvider, model, project}

	if id := conversationID(payload); id != "" {
		parts = append(parts, "conv:"+id)
		return strings.Join(parts, "|")
	}

	h := sha256.New()
	h.Write([]byte(gjson.GetBytes(payload, "systemInstruction.parts.0.text").String()))
	h.Write([]byte{0})
	first, last := firstAndLastUserText(gjson.GetBytes(payload, "contents"))
	h.Write([]byte(first))
	h.Write([]byte{0})
	h.Write([]byte(last))
	parts = append(parts, hex.EncodeToString(h.Sum(nil))[:16])
	return strings.Join(parts, "|")
}

func conversationID(payload []byte) string {
	for _, path := range []string{"conversationId", "metadata.conversationId"} {
		if id := strings.TrimSpace(gjson.GetBytes(payload, path).String()); id != "" {
			return id
		}
	}
	return ""
}

func firstAndLastUserText(contents gjson.Result) (first, last string) {
	if !contents.IsArray() {
		return "", ""
	}
	for _, content := range contents.Array() {
		if content.Get("role").String() != "user" {
			continue
		}
		text := content.Get("parts.0.text").String()
		if first == "" {
			first = text
		}
		last = text
	}
	return first, last
}
