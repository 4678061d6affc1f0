package mapping

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/normalize"
)

//go:embed aliases.yaml
var aliasesYAML []byte

const rulesSchemaURL = "contacthub://schemas/mapping-rules.json"

// RuleSet validates rule documents and suggests rules for new layouts.
type RuleSet struct {
	schema  *jsonschema.Schema
	aliases map[string]string // normalized header -> field
}

// NewRuleSet compiles the rules schema and loads the embedded header aliases.
func NewRuleSet() (*RuleSet, error) {
	schema, err := compileRulesSchema()
	if err != nil {
		return nil, err
	}

	var byField map[string][]string
	if err := yaml.Unmarshal(aliasesYAML, &byField); err != nil {
		return nil, fmt.Errorf("parse header aliases: %w", err)
	}
	aliases := make(map[string]string)
	for field, names := range byField {
		if !IsField(field) {
			return nil, fmt.Errorf("header aliases: unknown field %q", field)
		}
		for _, n := range names {
			aliases[normalize.Header(n)] = field
		}
	}

	return &RuleSet{schema: schema, aliases: aliases}, nil
}

func compileRulesSchema() (*jsonschema.Schema, error) {
	enum, err := json.Marshal(Fields)
	if err != nil {
		return nil, err
	}
	doc := `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"propertyNames": {"minLength": 1, "maxLength": 256},
		"additionalProperties": {"type": "string", "enum": ` + string(enum) + `}
	}`

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(rulesSchemaURL, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add rules schema: %w", err)
	}
	schema, err := c.Compile(rulesSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}
	return schema, nil
}

// Normalize validates rules against the schema and against the layout's
// headers, returning them keyed by normalized column name. Keys may be given
// raw or normalized.
func (rs *RuleSet) Normalize(rules Rules, headerNormalized []string) (Rules, error) {
	if rules == nil {
		return nil, nil
	}

	doc := make(map[string]any, len(rules))
	for k, v := range rules {
		doc[k] = v
	}
	if err := rs.schema.Validate(doc); err != nil {
		return nil, apperror.Validation("invalid rules: %v", err).WithCode("MAP003")
	}

	known := make(map[string]bool, len(headerNormalized))
	for _, h := range headerNormalized {
		known[h] = true
	}

	out := make(Rules, len(rules))
	for col, field := range rules {
		key := normalize.Header(col)
		if !known[key] {
			return nil, apperror.Validation("invalid rules: column %q is not in the mapping headers", col).WithCode("MAP003")
		}
		if prev, dup := out[key]; dup && prev != field {
			return nil, apperror.Validation("invalid rules: column %q mapped twice", col).WithCode("MAP003")
		}
		out[key] = field
	}
	return out, nil
}

// Suggest derives initial rules from known header aliases. Scalar fields are
// assigned to the first matching column only; unknown columns stay unmapped.
// Returns nil when nothing matches.
func (rs *RuleSet) Suggest(headerNormalized []string) Rules {
	var out Rules
	used := make(map[string]bool)
	for _, h := range headerNormalized {
		field, ok := rs.aliases[h]
		if !ok {
			continue
		}
		if used[field] && !MultiValued(field) {
			continue
		}
		if out == nil {
			out = make(Rules)
		}
		out[h] = field
		used[field] = true
	}
	return out
}
