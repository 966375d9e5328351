package translate

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/bnema/antigravity-pool/internal/domain"
)

// defaultThinkingBudget applies when a thinking-capable model gets no
// explicit configuration from the caller.
const defaultThinkingBudget = 8192

// ThinkingOption is the Anthropic-style caller shape: {type, budget_tokens}.
type ThinkingOption struct {
	Type         string
	BudgetTokens int
}

type thinkingConfig struct {
	enabled bool
	budget  int
}

// resolveThinking combines the two caller-supplied shapes with model
// capability. allowed comes from the signature repair outcome: unsigned
// history cannot be safely carried forward, so thinking is forced off unless
// the repair succeeded.
func resolveThinking(payload []byte, opt *ThinkingOption, model string, allowed bool) thinkingConfig {
	if !modelSupportsThinking(model) {
		return thinkingConfig{}
	}
	if !allowed {
		return thinkingConfig{}
	}

	if structured := gjson.GetBytes(payload, "generationConfig.thinkingConfig"); structured.Exists() {
		budget := int(structured.Get("thinkingBudget").Int())
		enabled := budget != 0
		if structured.Get("includeThoughts").Exists() {
			enabled = structured.Get("includeThoughts").Bool()
		}
		return thinkingConfig{enabled: enabled, budget: budget}
	}

	if opt != nil {
		return thinkingConfig{enabled: opt.Type == "enabled", budget: opt.BudgetTokens}
	}

	if inline := gjson.GetBytes(payload, "thinking"); inline.Exists() {
		return thinkingConfig{
			enabled: inline.Get("type").String() == "enabled",
			budget:  int(inline.Get("budget_tokens").Int()),
		}
	}

	return thinkingConfig{enabled: true, budget: defaultThinkingBudget}
}

// encodeThinking writes the family-specific wire encoding into the inner
// request. Gemini takes a numeric token budget, omitted when zero, negative,
// or absent; the signed-thinking family takes a discrete effort tier string.
func encodeThinking(request []byte, cfg thinkingConfig, family domain.Family) []byte {
	request, _ = sjson.DeleteBytes(request, "generationConfig.thinkingConfig")
	if !cfg.enabled {
		return request
	}

	switch family {
	case domain.FamilyClaude:
		request, _ = sjson.SetBytes(request, "generationConfig.thinkingConfig.thinkingLevel", effortTier(cfg.budget))
		request, _ = sjson.SetBytes(request, "generationConfig.thinkingConfig.includeThoughts", true)
	default:
		if cfg.budget > 0 {
			request, _ = sjson.SetBytes(request, "generationConfig.thinkingConfig.thinkingBudget", cfg.budget)
		}
		request, _ = sjson.SetBytes(request, "generationConfig.thinkingConfig.includeThoughts", true)
	}
	return request
}

func effortTier(budget int) string {
	switch {
	case budget > 0 && budget <= 4096:
		return "low"
	case budget > 16384:
		return "high"
	default:
		return "medium"
	}
}

func modelSupportsThinking(model string) bool {
	model = strings.ToLower(model)
	if strings.Contains(model, "image") {
		return false
	}
	return strings.Contains(model, "claude") ||
		strings.Contains(model, "gemini-2.5") ||
		strings.Contains(model, "gemini-3")
}
