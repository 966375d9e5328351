package translate

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// placeholderSchema stands in for a declaration that arrived without a usable
// schema; upstream validation rejects empty schemas outright.
const placeholderSchema = `{"type":"object","properties":{"confirm":{"type":"boolean"}},"required":["confirm"]}`

// schemaRule locates a function declaration inside one inbound tool entry.
// Rules are tried in order, first match wins; new wire dialects add a rule
// instead of touching control flow.
type schemaRule struct {
	source string
	name   string
	desc   string
	schema string
}

var schemaRules = []schemaRule{
	{source: "function.input_schema", name: "function.name", desc: "function.description", schema: "function.input_schema"},
	{source: "function.parameters", name: "function.name", desc: "function.description", schema: "function.parameters"},
	{source: "custom.input_schema", name: "custom.name", desc: "custom.description", schema: "custom.input_schema"},
	{source: "custom.parameters", name: "custom.name", desc: "custom.description", schema: "custom.parameters"},
	{source: "input_schema", name: "name", desc: "description", schema: "input_schema"},
	{source: "parameters", name: "name", desc: "description", schema: "parameters"},
}

// ToolNormalization is returned as translation metadata.
type ToolNormalization struct {
	Placeholders int
	Diagnostics  []string
}

// normalizeTools rewrites every inbound tool entry, whatever shape its schema
// arrived in, into one uniform functionDeclarations array. Entries that carry
// no function at all (search grounding and the like) pass through unchanged.
func normalizeTools(tools gjson.Result) ([]byte, ToolNormalization) {
	var meta ToolNormalization
	if !tools.IsArray() {
		return nil, meta
	}

	declarations := make([]string, 0)
	passthrough := make([]string, 0)

	for _, tool := range tools.Array() {
		if existing := tool.Get("functionDeclarations"); existing.IsArray() {
			for _, decl := range existing.Array() {
				declarations = append(declarations, normalizeDeclaration(decl, "functionDeclarations", &meta))
			}
			continue
		}

		rule, ok := matchRule(tool)
		if !ok {
			if name := declarationName(tool); name != "" {
				// Named tool with no schema anywhere still becomes a
				// declaration so the model can call it.
				declarations = append(declarations, buildDeclaration(name, tool.Get("description").String(), "", "none", &meta))
				continue
			}
			passthrough = append(passthrough, tool.Raw)
			continue
		}

		name := tool.Get(rule.name).String()
		if name == "" {
			name = declarationName(tool)
		}
		declarations = append(declarations, buildDeclaration(name, tool.Get(rule.desc).String(), tool.Get(rule.schema).Raw, rule.source, &meta))
	}

	if len(declarations) == 0 && len(passthrough) == 0 {
		return []byte("[]"), meta
	}

	entries := make([]string, 0, 1+len(passthrough))
	if len(declarations) > 0 {
		entries = append(entries, `{"functionDeclarations":[`+strings.Join(declarations, ",")+`]}`)
	}
	entries = append(entries, passthrough...)
	return []byte("[" + strings.Join(entries, ",") + "]"), meta
}

func matchRule(tool gjson.Result) (schemaRule, bool) {
	for _, rule := range schemaRules {
		schema := tool.Get(rule.schema)
		if schema.Exists() && schema.IsObject() {
			return rule, true
		}
	}
	return schemaRule{}, false
}

func declarationName(tool gjson.Result) string {
	for _, path := range []string{"name", "function.name", "custom.name"} {
		if name := tool.Get(path).String(); name != "" {
			return name
		}
	}
	return ""
}

func buildDeclaration(name, description, rawSchema, source string, meta *ToolNormalization) string {
	decl := "{}"
	decl, _ = sjson.Set(decl, "name", name)
	if description != "" {
		decl, _ = sjson.Set(decl, "description", description)
	}

	if emptySchema(rawSchema) {
		decl, _ = sjson.SetRaw(decl, "parameters", placeholderSchema)
		meta.Placeholders++
		meta.Diagnostics = append(meta.Diagnostics, fmt.Sprintf("tool %s: empty schema from %s, placeholder injected", name, source))
		return decl
	}

	decl, _ = sjson.SetRaw(decl, "parameters", rawSchema)
	meta.Diagnostics = append(meta.Diagnostics, fmt.Sprintf("tool %s: schema from %s", name, source))
	return decl
}

func normalizeDeclaration(decl gjson.Result, source string, meta *ToolNormalization) string {
	schema := decl.Get("parameters")
	if schema.Exists() && !emptySchema(schema.Raw) {
		meta.Diagnostics = append(meta.Diagnostics, fmt.Sprintf("tool %s: schema from %s", decl.Get("name").String(), source))
		return decl.Raw
	}
	out, _ := sjson.SetRaw(decl.Raw, "parameters", placeholderSchema)
	meta.Placeholders++
	meta.Diagnostics = append(meta.Diagnostics, fmt.Sprintf("tool %s: empty schema from %s, placeholder injected", decl.Get("name").String(), source))
	return out
}

func emptySchema(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return true
	}
	if props := parsed.Get("properties"); props.Exists() {
		return len(props.Map()) == 0
	}
	return len(parsed.Map()) == 0 || (parsed.Get("type").String() == "object" && !parsed.Get("properties").Exists())
}
