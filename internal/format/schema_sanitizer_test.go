package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSchemaEmptyProducesPlaceholder(t *testing.T) {
	result := SanitizeSchema(nil)
	assert.Equal(t, "object", result["type"])
	props := result["properties"].(map[string]interface{})
	assert.Contains(t, props, "reason")
}

func TestSanitizeSchemaConstBecomesEnum(t *testing.T) {
	result := SanitizeSchema(map[string]interface{}{
		"type":  "string",
		"const": "fixed-value",
	})
	assert.Equal(t, []interface{}{"fixed-value"}, result["enum"])
	_, hasConst := result["const"]
	assert.False(t, hasConst)
}

func TestSanitizeSchemaDropsDisallowedFields(t *testing.T) {
	result := SanitizeSchema(map[string]interface{}{
		"type":        "string",
		"pattern":     "^[a-z]+$",
		"minLength":   1,
		"description": "a name",
	})
	assert.Equal(t, "string", result["type"])
	assert.Equal(t, "a name", result["description"])
	_, hasPattern := result["pattern"]
	assert.False(t, hasPattern)
	_, hasMinLength := result["minLength"]
	assert.False(t, hasMinLength)
}

func TestSanitizeSchemaObjectWithoutPropertiesGetsPlaceholder(t *testing.T) {
	result := SanitizeSchema(map[string]interface{}{"type": "object"})
	props := result["properties"].(map[string]interface{})
	assert.Contains(t, props, "reason")
	assert.Equal(t, []string{"reason"}, result["required"])
}

func TestSanitizeSchemaRecursesIntoNestedProperties(t *testing.T) {
	result := SanitizeSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"nested": map[string]interface{}{
				"type":  "string",
				"const": "x",
			},
		},
	})
	props := result["properties"].(map[string]interface{})
	nested := props["nested"].(map[string]interface{})
	assert.Equal(t, []interface{}{"x"}, nested["enum"])
}

func TestCleanSchemaConvertsTypeToGoogleUppercase(t *testing.T) {
	result := CleanSchema(map[string]interface{}{"type": "string"})
	assert.Equal(t, "STRING", result["type"])
}

func TestCleanSchemaStripsUnsupportedKeywords(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"$schema":              "http://json-schema.org/draft-07/schema#",
	})
	_, hasAdditional := result["additionalProperties"]
	assert.False(t, hasAdditional)
	_, hasSchema := result["$schema"]
	assert.False(t, hasSchema)
}

func TestCleanSchemaFlattensNullableTypeArray(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"type": []interface{}{"string", "null"},
	})
	assert.Equal(t, "STRING", result["type"])
	desc, _ := result["description"].(string)
	assert.Contains(t, desc, "nullable")
}

func TestCleanSchemaMergesAllOf(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"allOf": []interface{}{
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"a": map[string]interface{}{"type": "string"},
				},
			},
			map[string]interface{}{
				"properties": map[string]interface{}{
					"b": map[string]interface{}{"type": "integer"},
				},
			},
		},
	})
	_, hasAllOf := result["allOf"]
	assert.False(t, hasAllOf)
	props := result["properties"].(map[string]interface{})
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
}

func TestCleanSchemaFlattensAnyOfToBestOption(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"anyOf": []interface{}{
			map[string]interface{}{"type": "null"},
			map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"a": map[string]interface{}{"type": "string"},
				},
			},
		},
	})
	_, hasAnyOf := result["anyOf"]
	assert.False(t, hasAnyOf)
	assert.Equal(t, "OBJECT", result["type"])
}

func TestCleanSchemaDropsRequiredForMissingProperties(t *testing.T) {
	result := CleanSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"a", "nonexistent"},
	})
	assert.Equal(t, []interface{}{"a"}, result["required"])
}

func TestToGoogleType(t *testing.T) {
	assert.Equal(t, "STRING", toGoogleType("string"))
	assert.Equal(t, "INTEGER", toGoogleType("integer"))
	assert.Equal(t, "STRING", toGoogleType("null"))
	assert.Equal(t, "", toGoogleType(""))
}
