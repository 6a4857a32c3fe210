package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaJSON describes the accepted filter shapes. It checks structure only;
// operator arity is enforced by Parse.
const SchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "leaf": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "comparitor": {"enum": ["eq", "ne", "ge", "gt", "le", "lt", "like", "ilike"]},
        "value": {"type": ["string", "number", "boolean", "null"]}
      }
    },
    "tree": {
      "type": "array",
      "minItems": 2,
      "items": [{"type": "string"}]
    }
  },
  "oneOf": [{"$ref": "#/definitions/leaf"}, {"$ref": "#/definitions/tree"}]
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(SchemaJSON))
	})
	return schema, schemaErr
}

// Validate checks raw against the filter schema and then parses it.
func Validate(raw json.RawMessage) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile filter schema: %w", err)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !res.Valid() {
		var errs []string
		for _, d := range res.Errors() {
			errs = append(errs, d.String())
		}
		return fmt.Errorf("%w: %s", ErrMalformed, strings.Join(errs, "; "))
	}
	if _, err := Parse(raw); err != nil {
		return err
	}
	return nil
}
