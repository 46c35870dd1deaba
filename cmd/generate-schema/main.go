package main

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/marmos91/webhdfsfs/pkg/config"
)

func main() {
	// Generate JSON schema from Config struct
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true, // Inline all definitions for simplicity
		RequiredFromJSONSchemaTags: true, // Every key has a default
		FieldNameTag:               "yaml",
		Mapper:                     mapHumanTypes,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.Title = "webhdfsfs Configuration"
	schema.Description = "Configuration schema for the webhdfsfs mount"
	schema.Version = "1.0.0"

	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling schema: %v\n", err)
		os.Exit(1)
	}

	outputFile := "config.schema.json"
	if len(os.Args) > 1 {
		outputFile = os.Args[1]
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing schema file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("JSON schema written to %s\n", outputFile)
}

// mapHumanTypes describes durations ("30s") and sizes ("64MiB") as the
// strings the config loader accepts.
func mapHumanTypes(t reflect.Type) *jsonschema.Schema {
	switch t {
	case reflect.TypeOf(time.Duration(0)):
		return &jsonschema.Schema{
			Type:        "string",
			Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
			Description: "Duration, e.g. 500ms, 30s, 5m",
		}
	case reflect.TypeOf(config.ByteSize(0)):
		return &jsonschema.Schema{
			OneOf: []*jsonschema.Schema{
				{Type: "integer", Minimum: json.Number("0")},
				{Type: "string", Description: "Size, e.g. 64MiB, 1GB"},
			},
		}
	}
	return nil
}
