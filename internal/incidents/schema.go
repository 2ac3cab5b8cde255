package incidents

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var proposalsSchema = map[string]any{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type":    "array",
	"items": map[string]any{
		"type":     "object",
		"required": []any{"action_type"},
		"properties": map[string]any{
			"action_id":          map[string]any{"type": "string", "minLength": 1, "maxLength": 128},
			"action_type":        map[string]any{"type": "string", "minLength": 1, "maxLength": 128},
			"title":              map[string]any{"type": "string", "maxLength": 512},
			"description":        map[string]any{"type": "string"},
			"estimated_duration": map[string]any{"type": "string"},
			"estimated_time":     map[string]any{"type": "string"},
			"url":                map[string]any{"type": []any{"string", "null"}},
			"requires_approval":  map[string]any{"type": "boolean"},
			"risk_score":         map[string]any{"type": "number", "minimum": 0},
		},
	},
}

var compiledProposalsSchema = mustCompile(proposalsSchema)

func mustCompile(schema map[string]any) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		panic(err)
	}
	return s
}

// ValidateProposals checks a resolver proposals document against the schema.
func ValidateProposals(raw json.RawMessage) error {
	if len(raw) == 0 {
		return validationError("proposals are required")
	}
	result, err := compiledProposalsSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return validationError("proposals are not valid json: %v", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return validationError("invalid proposals: %s", strings.Join(msgs, "; "))
}
