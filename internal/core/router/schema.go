package router

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// querySchemaJSON describes the body of POST /query. Field filters are
// checked separately by filter.Validate.
const querySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {
      "type": "object",
      "required": ["layers"],
      "properties": {
        "serviceName": {"type": "string"},
        "selection": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["type"],
            "properties": {"type": {"enum": ["Feature"]}}
          }
        },
        "fields": {"type": "array"},
        "layers": {
          "type": "array",
          "items": {"type": "string", "pattern": "^[^/]+/.+$"}
        },
        "runOptions": {
          "type": "object",
          "properties": {
            "zoomToResults": {"type": "boolean"},
            "gridMinimized": {"type": "boolean"}
          }
        }
      }
    },
    "view": {
      "type": "object",
      "properties": {
        "resolution": {"type": "number", "minimum": 0},
        "projection": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func validateQueryBody(body []byte) error {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(querySchemaJSON))
	})
	if schemaErr != nil {
		return fmt.Errorf("compile query schema: %w", schemaErr)
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, d := range res.Errors() {
			msgs = append(msgs, d.String())
		}
		return fmt.Errorf("invalid query: %s", strings.Join(msgs, "; "))
	}
	return nil
}
