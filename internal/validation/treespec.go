package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/weft/pkg/schema"
)

// treeSchemaJSON is the JSON Schema for tree-import payloads. Embedded as a
// constant to avoid filesystem dependencies. A payload is either a wrapper
// object with a "nodes" array or a bare array of tree entries; each entry is
// an object (string children are shorthand for content-only leaves). A
// "nodes" key marks the wrapper shape, so entries must not carry one.
const treeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://weft.dev/schemas/tree.json",
  "anyOf": [
    { "$ref": "#/$defs/entries" },
    {
      "type": "object",
      "required": ["nodes"],
      "properties": {
        "nodes": { "$ref": "#/$defs/entries" },
        "title": { "type": "string" },
        "metadata": { "type": "object" }
      },
      "additionalProperties": false
    },
    { "$ref": "#/$defs/entry" }
  ],
  "$defs": {
    "entries": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/entry" }
    },
    "entry": {
      "anyOf": [
        { "type": "string" },
        {
          "type": "object",
          "properties": {
            "nodes": false,
            "type": { "type": "string" },
            "title": { "type": "string" },
            "content": { "type": "string" },
            "children": {
              "type": "array",
              "items": { "$ref": "#/$defs/entry" }
            }
          },
          "additionalProperties": true
        }
      ]
    }
  }
}`

// TreeSpecValidator checks tree-import payloads against the embedded schema
// before any node is materialized. It is safe for concurrent use.
type TreeSpecValidator struct {
	tree *jsonschema.Schema
}

// NewTreeSpecValidator compiles the embedded tree schema.
func NewTreeSpecValidator() (*TreeSpecValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(treeSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal tree schema: %w", err)
	}
	if err := c.AddResource("https://weft.dev/schemas/tree.json", doc); err != nil {
		return nil, fmt.Errorf("add tree schema resource: %w", err)
	}
	compiled, err := c.Compile("https://weft.dev/schemas/tree.json")
	if err != nil {
		return nil, fmt.Errorf("compile tree schema: %w", err)
	}
	return &TreeSpecValidator{tree: compiled}, nil
}

// ValidatePayload validates raw import JSON. The raw bytes are decoded with
// jsonschema.UnmarshalJSON so numbers arrive as json.Number, which the
// library requires.
func (v *TreeSpecValidator) ValidatePayload(raw []byte) error {
	if len(raw) == 0 {
		return schema.NewError(schema.ErrCodeInvalidInput, "import payload is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeInvalidInput, "import payload is not valid JSON").WithCause(err)
	}
	if err := v.tree.Validate(doc); err != nil {
		return toWeftError(err)
	}
	return nil
}

// toWeftError converts a jsonschema.ValidationError into a WeftError with
// per-location violation messages.
func toWeftError(err error) *schema.WeftError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeInvalidInput, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeInvalidInput, verr.Error())
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeInvalidInput, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	msg := fmt.Sprintf("import payload failed validation with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeInvalidInput, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
