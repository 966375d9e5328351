package translate

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/signature"
)

const modelAccessHelpURL = "https://antigravity.google/docs/model-access"

// ResponseResult is the host-facing response: the translated body plus
// headers carrying usage counters and retry hints.
type ResponseResult struct {
	Status int
	Header http.Header
	Body   []byte
}

// TranslateResponse converts a buffered upstream response back to host
// format. Non-JSON content passes through unchanged rather than crashing on
// a parse failure.
func TranslateResponse(col *signature.Collector, status int, contentType string, body []byte, model string) ResponseResult {
	result := ResponseResult{Status: status, Header: http.Header{}, Body: body}
	if contentType != "" {
		result.Header.Set("Content-Type", contentType)
	}

	if !strings.Contains(contentType, "json") || !gjson.ValidBytes(body) {
		return result
	}

	col.Observe(body)

	inner := body
	if wrapped := gjson.GetBytes(body, "response"); wrapped.Exists() {
		inner = []byte(wrapped.Raw)
	}
	inner = reshapeThinking(inner)

	setUsageHeaders(result.Header, inner)
	setRetryHeaders(result.Header, inner)

	if status == http.StatusNotFound && domain.FamilyForModel(model) == domain.FamilyClaude {
		if msg := gjson.GetBytes(inner, "error.message"); msg.Exists() {
			rewritten := fmt.Sprintf("%s (model %s requires feature access: %s)", msg.String(), model, modelAccessHelpURL)
			inner, _ = sjson.SetBytes(inner, "error.message", rewritten)
		}
	}

	result.Body = inner
	return result
}

// reshapeThinking normalizes thinking blocks to one common surface: parts
// carry thought, text and thoughtSignature regardless of which spelling the
// upstream used.
func reshapeThinking(payload []byte) []byte {
	parts := gjson.GetBytes(payload, "candidates.0.content.parts")
	if !parts.IsArray() {
		return payload
	}
	for i, part := range parts.Array() {
		legacy := part.Get("thought_signature")
		if !legacy.Exists() {
			continue
		}
		path := "candidates.0.content.parts." + strconv.Itoa(i)
		payload, _ = sjson.SetBytes(payload, path+".thoughtSignature", legacy.String())
		payload, _ = sjson.DeleteBytes(payload, path+".thought_signature")
	}
	return payload
}

func setUsageHeaders(header http.Header, payload []byte) {
	usage := gjson.GetBytes(payload, "usageMetadata")
	if !usage.Exists() {
		return
	}
	for field, name := range map[string]string{
		"promptTokenCount":     "X-Usage-Prompt-Tokens",
		"candidatesTokenCount": "X-Usage-Completion-Tokens",
		"thoughtsTokenCount":   "X-Usage-Thinking-Tokens",
		"totalTokenCount":      "X-Usage-Total-Tokens",
	} {
		if v := usage.Get(field); v.Exists() {
			header.Set(name, strconv.FormatInt(v.Int(), 10))
		}
	}
}

// setRetryHeaders surfaces a structured retry delay from error details (a
// string like "3.5s") as standard retry headers.
func setRetryHeaders(header http.Header, payload []byte) {
	delay := RetryDelayFromBody(payload)
	if delay <= 0 {
		return
	}
	header.Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
	header.Set("Retry-After-Ms", strconv.FormatInt(delay.Milliseconds(), 10))
}

// RetryDelayFromBody extracts the RetryInfo detail an upstream 429 carries.
func RetryDelayFromBody(payload []byte) time.Duration {
	for _, detail := range gjson.GetBytes(payload, "error.details").Array() {
		raw := detail.Get("retryDelay").String()
		if raw == "" {
			raw = detail.Get("retryInfo.retryDelay").String()
		}
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return 0
}
