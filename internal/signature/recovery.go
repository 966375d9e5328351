package signature

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// State of the conversation's thinking signatures, computed fresh from
// history on every call.
type State string

const (
	// StateNoHistory: no assistant turns yet, nothing to check.
	StateNoHistory State = "no-history"
	// StateNormal: the turn that issued pending tool calls already carries a
	// validly signed thinking block.
	StateNormal State = "normal"
	// StateRepaired: thinking was unsigned or missing and a cached signature
	// for identical text was reinjected.
	StateRepaired State = "repaired"
	// StateRecovered: terminal recovery; the corrupted tool loop was closed
	// with synthetic messages and thinking blocks were stripped.
	StateRecovered State = "recovered"
	// StateThinkingOff: unsigned assistant history with no repair available;
	// thinking must stay disabled for this call.
	StateThinkingOff State = "thinking-off"
)

// Outcome carries the possibly rewritten contents array and whether thinking
// may remain enabled for the outgoing request.
type Outcome struct {
	State           State
	Contents        []byte
	ThinkingAllowed bool
}

const (
	toolLoopCloseText = "Tool executions completed."
	toolLoopNudgeText = "continue"
)

// Repair inspects a Gemini-style contents array and brings its thinking
// state back to something the signed-thinking family will accept. It never
// paraphrases: a repair reinjects the cached text byte-identical.
func Repair(cache *Cache, sessionKey string, contents []byte) Outcome {
	parsed := gjson.ParseBytes(contents)
	if !parsed.IsArray() {
		return Outcome{State: StateNoHistory, Contents: contents, ThinkingAllowed: true}
	}
	items := parsed.Array()

	boundary := -1
	lastModel := -1
	for i, content := range items {
		if content.Get("role").String() != "model" {
			continue
		}
		lastModel = i
		for _, part := range content.Get("parts").Array() {
			if part.Get("functionCall").Exists() {
				boundary = i
				break
			}
		}
	}
	if lastModel == -1 {
		return Outcome{State: StateNoHistory, Contents: contents, ThinkingAllowed: true}
	}

	checked := boundary
	if checked == -1 {
		checked = lastModel
	}
	if turnHasSignedThinking(items[checked]) {
		return Outcome{State: StateNormal, Contents: contents, ThinkingAllowed: true}
	}

	if cache != nil {
		if last, ok := cache.LastSigned(sessionKey); ok {
			if sig, hit := cache.Exact(sessionKey, last.Text); hit {
				repaired, err := injectLeadingThinking(contents, checked, last.Text, sig)
				if err == nil {
					return Outcome{State: StateRepaired, Contents: repaired, ThinkingAllowed: true}
				}
			}
		}
	}

	if boundary != -1 && endsInToolResult(items) {
		recovered := stripThinking(contents, items)
		recovered = appendClosingTurns(recovered)
		if cache != nil {
			cache.Invalidate(sessionKey)
		}
		return Outcome{State: StateRecovered, Contents: recovered, ThinkingAllowed: false}
	}

	return Outcome{State: StateThinkingOff, Contents: contents, ThinkingAllowed: false}
}

func turnHasSignedThinking(content gjson.Result) bool {
	for _, part := range content.Get("parts").Array() {
		if !part.Get("thought").Bool() {
			continue
		}
		if part.Get("thoughtSignature").String() != "" {
			return true
		}
	}
	return false
}

func endsInToolResult(items []gjson.Result) bool {
	if len(items) == 0 {
		return false
	}
	for _, part := range items[len(items)-1].Get("parts").Array() {
		if part.Get("functionResponse").Exists() {
			return true
		}
	}
	return false
}

func injectLeadingThinking(contents []byte, index int, text, sig string) ([]byte, error) {
	block, err := sjson.Set(`{"thought":true}`, "text", text)
	if err != nil {
		return nil, err
	}
	block, err = sjson.Set(block, "thoughtSignature", sig)
	if err != nil {
		return nil, err
	}

	parts := gjson.GetBytes(contents, strconv.Itoa(index)+".parts").Array()
	raw := make([]string, 0, len(parts)+1)
	raw = append(raw, block)
	for _, part := range parts {
		raw = append(raw, part.Raw)
	}
	return sjson.SetRawBytes(contents, strconv.Itoa(index)+".parts", joinArray(raw))
}

func stripThinking(contents []byte, items []gjson.Result) []byte {
	for i := range items {
		parts := gjson.GetBytes(contents, strconv.Itoa(i)+".parts").Array()
		kept := make([]string, 0, len(parts))
		for _, part := range parts {
			if part.Get("thought").Bool() {
				continue
			}
			kept = append(kept, part.Raw)
		}
		if len(kept) == len(parts) {
			continue
		}
		contents, _ = sjson.SetRawBytes(contents, strconv.Itoa(i)+".parts", joinArray(kept))
	}
	return contents
}

func appendClosingTurns(contents []byte) []byte {
	closing := fmt.Sprintf(`{"role":"model","parts":[{"text":%q}]}`, toolLoopCloseText)
	nudge := fmt.Sprintf(`{"role":"user","parts":[{"text":%q}]}`, toolLoopNudgeText)
	contents, _ = sjson.SetRawBytes(contents, "-1", []byte(closing))
	contents, _ = sjson.SetRawBytes(contents, "-1", []byte(nudge))
	return contents
}

func joinArray(raw []string) []byte {
	return []byte("[" + strings.Join(raw, ",") + "]")
}
