package flowsjson

import (
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// documentSchema only checks the shape every element must have. Node specific
// properties are validated by the node factories.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "type"],
    "properties": {
      "id":    {"type": "string", "minLength": 1, "maxLength": 16, "pattern": "^[0-9a-fA-F]+$"},
      "type":  {"type": "string", "minLength": 1},
      "z":     {"type": "string"},
      "g":     {"type": "string"},
      "wires": {"type": "array", "items": {"type": "array", "items": {"type": "string"}}}
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
	})
	return compiledSchema, schemaErr
}

// ValidateDocument checks decoded elements against the document schema.
func ValidateDocument(elements []any) error {
	schema, err := loadSchema()
	if err != nil {
		return rwerrors.NewError("SCHEMA", "failed to compile flows schema", err)
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(elements))
	if err != nil {
		return rwerrors.BadFlowsJSON("schema validation failed: %v", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return rwerrors.BadFlowsJSON("%s", strings.Join(problems, "; "))
}
