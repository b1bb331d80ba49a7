package stubs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Payload shapes are checked against versioned schemas before they reach the
// store. A listing item that fails validation is dropped with a warning; a
// snapshot payload that fails validation is a cache miss. Neither can corrupt
// the authoritative map.

const mappingSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["id"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"priority": {"type": "integer", "minimum": 0},
		"scenarioName": {"type": "string"},
		"request": {
			"type": "object",
			"properties": {
				"method": {"type": "string"},
				"url": {"type": "string"},
				"urlPattern": {"type": "string"}
			}
		},
		"response": {
			"type": "object",
			"properties": {
				"status": {"type": "integer"},
				"body": {"type": "string"}
			}
		}
	}
}`

const cachePayloadSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["version", "timestamp", "items"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"timestamp": {"type": "integer", "minimum": 0},
		"count": {"type": "integer", "minimum": 0},
		"items": {"type": "array", "items": {"type": "object"}}
	}
}`

var (
	mappingSchema      = mustCompileSchema("mapping.schema.json", mappingSchemaJSON)
	cachePayloadSchema = mustCompileSchema("cache-payload.schema.json", cachePayloadSchemaJSON)
)

func mustCompileSchema(name, src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

// ValidateMappingJSON checks one raw listing item against the mapping schema.
func ValidateMappingJSON(raw json.RawMessage) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	return mappingSchema.Validate(value)
}

// ValidateCachePayloadJSON checks a decoded snapshot body against the cache
// payload schema. The caller treats any error as a cache miss.
func ValidateCachePayloadJSON(raw []byte) error {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return err
	}
	return cachePayloadSchema.Validate(value)
}

// DecodeMappings validates and decodes raw listing items. Items that fail
// validation or decoding are dropped with a warning and never reach the
// store.
func DecodeMappings(raws []json.RawMessage, logger Logger) []Mapping {
	out := make([]Mapping, 0, len(raws))
	for i, raw := range raws {
		if err := ValidateMappingJSON(raw); err != nil {
			logfTo(logger, "dropping malformed mapping at index %d: %v", i, err)
			continue
		}
		var m Mapping
		if err := json.Unmarshal(raw, &m); err != nil {
			logfTo(logger, "dropping undecodable mapping at index %d: %v", i, err)
			continue
		}
		out = append(out, m)
	}
	return out
}

func logfTo(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
