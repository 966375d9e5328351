package domain

import "strings"

type Family string

const (
	// FamilyGemini takes a numeric thinking token budget on the wire.
	FamilyGemini Family = "gemini"
	// FamilyClaude requires upstream-signed thinking blocks before tool calls
	// and takes a discrete effort tier instead of a budget.
	FamilyClaude Family = "claude"
)

// FamilyForModel classifies a model name into its wire dialect family.
func FamilyForModel(model string) Family {
	if strings.Contains(strings.ToLower(model), "claude") {
		return FamilyClaude
	}
	return FamilyGemini
}

// RequiresSignedThinking reports whether the family rejects tool-calling turns
// without a validly signed thinking block.
func (f Family) RequiresSignedThinking() bool {
	return f == FamilyClaude
}
