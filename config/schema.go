package config

import (
	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/mapgate/errors"
)

// mappingSchema is the structural contract for mapping documents submitted
// through the API. Semantic rules (wildcard placement, collisions) are
// checked separately by the mapping package.
const mappingSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "direction", "targetAPI"],
  "properties": {
    "id": {"type": "string"},
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "direction": {"enum": ["INBOUND", "OUTBOUND"]},
    "topicPattern": {"type": "string"},
    "publishTopic": {"type": "string"},
    "filterExpression": {"type": "string"},
    "filterInventory": {"type": "string"},
    "targetAPI": {"enum": ["MEASUREMENT", "EVENT", "ALARM", "INVENTORY", "OPERATION"]},
    "active": {"type": "boolean"},
    "debug": {"type": "boolean"},
    "maxFailureCount": {"type": "integer", "minimum": 0},
    "snoopStatus": {"enum": ["NONE", "ENABLED", "STARTED", "STOPPED"]},
    "snoopedTemplates": {"type": "array", "items": {"type": "string"}}
  }
}`

var mappingSchemaLoader = gojsonschema.NewStringLoader(mappingSchema)

// ValidateMappingJSON checks a raw mapping document against the schema and
// returns the violations as a discrete error list, nil when valid.
func ValidateMappingJSON(document []byte) (errors.ValidationErrors, error) {
	result, err := gojsonschema.Validate(mappingSchemaLoader, gojsonschema.NewBytesLoader(document))
	if err != nil {
		return nil, errors.WrapInvalid(err, "MappingSchema", "ValidateMappingJSON",
			"failed to run schema validation")
	}
	if result.Valid() {
		return nil, nil
	}

	violations := make(errors.ValidationErrors, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, errors.ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return violations, nil
}
