package engine

import (
	"github.com/invopop/jsonschema"
)

// ConfigSchema - JSON Schema файла конфигурации для редакторов и CI.
func ConfigSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(new(Config))
	schema.Title = "Lockstep Server Config"
	schema.Description = "Session parameters loaded by LoadConfigFile"
	return schema
}
