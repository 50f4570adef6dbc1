//go:generate go run ../build/gen-config-schema.go schema.json

// Package config embeds the JSON schema of the mergectl configuration file,
// generated from internal/config. See mergectl config-schema.
package config

import (
	_ "embed"
)

//go:embed "schema.json"
var schema []byte

// Schema returns the schema document as JSON.
func Schema() []byte {
	return schema
}
