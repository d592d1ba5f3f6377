package litellm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Strob0t/opsloop/internal/domain/run"
)

// decisionSchemaJSON accepts any object that either names a command or
// asks to stop. Unknown fields are ignored; missing text fields default to
// empty.
const decisionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "rationale":        {"type": ["string", "null"]},
    "next_command":     {"type": ["string", "null"]},
    "success_criteria": {"type": ["string", "null"]},
    "stop":             {"type": ["boolean", "null"]}
  },
  "anyOf": [
    {"required": ["next_command"]},
    {"required": ["stop"]}
  ]
}`

const decisionSchemaURL = "https://opsloop.local/schemas/decision.schema.json"

var decisionSchema = mustCompileDecisionSchema()

func mustCompileDecisionSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(decisionSchemaURL, strings.NewReader(decisionSchemaJSON)); err != nil {
		panic(fmt.Sprintf("decision schema load failed: %v", err))
	}
	s, err := c.Compile(decisionSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("decision schema compile failed: %v", err))
	}
	return s
}

// errNoObject is returned when the text holds no JSON object at all.
var errNoObject = errors.New("no JSON object in response")

// ParseDecision extracts a Decision from model output. Markdown code fences
// and prose around a single JSON object are tolerated.
func ParseDecision(text string) (run.Decision, error) {
	obj, err := extractObject(text)
	if err != nil {
		return run.Decision{}, err
	}

	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return run.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if err := decisionSchema.Validate(doc); err != nil {
		return run.Decision{}, fmt.Errorf("decision schema validation failed: %w", err)
	}

	var raw struct {
		Rationale       *string `json:"rationale"`
		NextCommand     *string `json:"next_command"`
		SuccessCriteria *string `json:"success_criteria"`
		Stop            *bool   `json:"stop"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return run.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return run.Decision{
		Rationale:       deref(raw.Rationale),
		NextCommand:     strings.TrimSpace(deref(raw.NextCommand)),
		SuccessCriteria: deref(raw.SuccessCriteria),
		Stop:            raw.Stop != nil && *raw.Stop,
	}, nil
}

func extractObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:] // drop the language tag line
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", errNoObject
	}
	return s[start : end+1], nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
