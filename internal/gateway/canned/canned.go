// Package canned loads the catalog of predefined queries offered in the
// help message. The catalog is a YAML file validated against an embedded
// JSON Schema before it is accepted, so a malformed file fails loudly at
// startup instead of producing broken quick picks.
package canned

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Query is one predefined query offered to the user.
type Query struct {
	Title   string `yaml:"title" json:"title"`
	Query   string `yaml:"query" json:"query"`
	Dataset string `yaml:"dataset,omitempty" json:"dataset,omitempty"`
}

type catalog struct {
	Queries []Query `yaml:"queries" json:"queries"`
}

const schemaText = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["queries"],
	"additionalProperties": false,
	"properties": {
		"queries": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "query"],
				"additionalProperties": false,
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"query": {"type": "string", "minLength": 1},
					"dataset": {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

var schema = jsonschema.MustCompileString("canned.schema.json", schemaText)

// Load reads and validates the catalog at path.
func Load(path string) ([]Query, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("canned: read catalog: %w", err)
	}
	return Parse(raw)
}

// Parse validates and decodes catalog bytes.
func Parse(raw []byte) ([]Query, error) {
	// Decode into generic values first so the schema sees the document as
	// written, unknown fields included.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("canned: parse catalog: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("canned: invalid catalog: %w", err)
	}

	var c catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("canned: decode catalog: %w", err)
	}
	return c.Queries, nil
}
