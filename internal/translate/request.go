// Package translate converts host-format chat payloads to and from the
// upstream v1internal wire envelope, covering both the plain Gemini dialect
// and the signed-thinking dialect.
package translate

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bnema/antigravity-pool/internal/domain"
	"github.com/bnema/antigravity-pool/internal/signature"
)

const upstreamUserAgent = "antigravity"

// ErrMalformedPayload is returned when the inbound body is not JSON.
var ErrMalformedPayload = errors.New("malformed request payload")

// modelAliases maps fixed variants onto the model actually served, e.g. an
// image-capable variant onto its base text model.
var modelAliases = map[string]string{
	"gemini-2.5-flash-image":     "gemini-2.5-flash",
	"gemini-3-pro-image-preview": "gemini-3-pro-preview",
}

type RequestOptions struct {
	Model     string
	Action    string
	ProjectID string
	Thinking  *ThinkingOption
}

// RequestResult is the upstream envelope plus translation metadata.
type RequestResult struct {
	Body           []byte
	Model          string
	ProjectID      string
	SessionKey     string
	Stream         bool
	Family         domain.Family
	SignatureState signature.State
	Tools          ToolNormalization
}

// TranslateRequest converts a host-format payload into the upstream wire
// envelope {project, model, request, userAgent, requestId} for the target
// model family.
func TranslateRequest(cache *signature.Cache, payload []byte, opts RequestOptions) (RequestResult, error) {
	if !gjson.ValidBytes(payload) {
		return RequestResult{}, ErrMalformedPayload
	}

	model := aliasModel(opts.Model)
	family := domain.FamilyForModel(model)

	result := RequestResult{
		Model:  model,
		Family: family,
		Stream: strings.HasPrefix(opts.Action, "stream"),
	}

	result.ProjectID = strings.TrimSpace(opts.ProjectID)
	if result.ProjectID == "" {
		result.ProjectID = gjson.GetBytes(payload, "project").String()
	}
	if result.ProjectID == "" {
		result.ProjectID = GenerateProjectID()
	}
	result.SessionKey = SessionKey(model, result.ProjectID, payload)

	request := append([]byte(nil), payload...)
	for _, hostOnly := range []string{"thinking", "conversationId", "metadata", "project", "model", "safetySettings"} {
		request, _ = sjson.DeleteBytes(request, hostOnly)
	}

	allowed := true
	result.SignatureState = signature.StateNoHistory
	if contents := gjson.GetBytes(request, "contents"); contents.IsArray() && family.RequiresSignedThinking() {
		fixed := backfillToolCallIDs([]byte(contents.Raw))
		outcome := signature.Repair(cache, result.SessionKey, fixed)
		result.SignatureState = outcome.State
		allowed = outcome.ThinkingAllowed
		request, _ = sjson.SetRawBytes(request, "contents", outcome.Contents)
	}

	cfg := resolveThinking(payload, opts.Thinking, model, allowed)
	request = encodeThinking(request, cfg, family)

	if tools := gjson.GetBytes(payload, "tools"); tools.Exists() {
		normalized, meta := normalizeTools(tools)
		result.Tools = meta
		if len(normalized) > 0 {
			request, _ = sjson.SetRawBytes(request, "tools", normalized)
		}
	}

	request, _ = sjson.SetBytes(request, "sessionId", stableSessionID(gjson.GetBytes(request, "contents")))

	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "project", result.ProjectID)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetRawBytes(body, "request", request)
	body, _ = sjson.SetBytes(body, "userAgent", upstreamUserAgent)
	body, _ = sjson.SetBytes(body, "requestId", generateRequestID())
	result.Body = body

	return result, nil
}

// ActionPath builds the upstream URL path; streaming is detected from the
// action name.
func ActionPath(action, alt string) string {
	path := "/v1internal:" + action
	if strings.HasPrefix(action, "stream") {
		if alt == "" {
			alt = "sse"
		}
		path += "?alt=" + alt
	}
	return path
}

func aliasModel(model string) string {
	if alias, ok := modelAliases[model]; ok {
		return alias
	}
	return model
}
