package config

import (
	"bytes"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v6"
	schemareflector "github.com/swaggest/jsonschema-go"

	ext_config "github.com/open-policy-agent/merge-into-file/config"
)

var rootSchema *jsonschema.Schema

func init() {
	js, err := jsonschema.UnmarshalJSON(bytes.NewReader(ext_config.Schema()))
	if err != nil {
		panic(err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)
	if err := compiler.AddResource("schema.json", js); err != nil {
		panic(err)
	}

	rootSchema, err = compiler.Compile("schema.json")
	if err != nil {
		panic(err)
	}
}

func ReflectSchema() ([]byte, error) {
	reflector := schemareflector.Reflector{}

	s, err := reflector.Reflect(Root{})
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(s, "", "  ")
}

func (Duration) PrepareJSONSchema(schema *schemareflector.Schema) error {
	schema.Type = nil
	schema.AddType(schemareflector.String)
	return nil
}

func (*SecretRef) PrepareJSONSchema(schema *schemareflector.Schema) error {
	schema.Type = nil
	schema.AddType(schemareflector.String)
	return nil
}

// Patterns accept a single string or a list of strings.
func (Patterns) PrepareJSONSchema(schema *schemareflector.Schema) error {
	str := schemareflector.String.ToSchemaOrBool()
	arr := schemareflector.Array.ToSchemaOrBool()
	arr.TypeObject.ItemsEns().SchemaOrBool = &str

	schema.Type = nil
	schema.Items = nil
	schema.OneOf = []schemareflector.SchemaOrBool{str, arr}
	return nil
}

// Files accept a mapping of destination to patterns or a list of rules.
func (Files) PrepareJSONSchema(schema *schemareflector.Schema) error {
	var patterns schemareflector.Schema
	if err := (Patterns{}).PrepareJSONSchema(&patterns); err != nil {
		return err
	}
	mapping := schemareflector.Object.ToSchemaOrBool()
	mapping.TypeObject.AdditionalProperties = &schemareflector.SchemaOrBool{TypeObject: &patterns}

	r := schemareflector.Reflector{}
	rule, err := r.Reflect(FileRule{}, schemareflector.InlineRefs)
	if err != nil {
		return err
	}
	list := schemareflector.Array.ToSchemaOrBool()
	list.TypeObject.ItemsEns().SchemaOrBool = &schemareflector.SchemaOrBool{TypeObject: &rule}

	schema.Type = nil
	schema.Properties = nil
	schema.OneOf = []schemareflector.SchemaOrBool{mapping, list}
	return nil
}

func (TransformStep) PrepareJSONSchema(schema *schemareflector.Schema) error {
	typ := schemareflector.String.ToSchemaOrBool()
	typ.TypeObject.WithEnum("banner", "json_patch", "rego", "replace", "trim")

	schema.Type = nil
	schema.AdditionalProperties = nil
	schema.AddType(schemareflector.Object)
	schema.WithPropertiesItem("type", typ)
	schema.WithRequired("type")
	return nil
}
