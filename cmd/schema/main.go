// Command schema writes a JSON schema describing every websocket frame the
// hub accepts or emits, for client tooling and fixture validation.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"

	"scenehub/server/internal/net/proto"
)

// objectDocument mirrors a scene object on the wire: an id plus arbitrary
// fields, kept verbatim by the hub.
type objectDocument struct {
	ID any `json:"id" jsonschema:"required,description=String or number; equal only to an id of the same kind"`
}

type sceneDocument struct {
	Objects []objectDocument `json:"objects" jsonschema:"required"`
}

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	frame := func(v any, title, description string) *jsonschema.Schema {
		schema := reflector.ReflectFromType(reflect.TypeOf(v))
		schema.Version = ""
		schema.Title = title
		schema.Description = description
		return schema
	}

	object := frame(objectDocument{}, "Scene Object",
		"Carried by add_object, remove_object and update_object requests and their broadcasts.")
	object.AdditionalProperties = &jsonschema.Schema{}

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Scene Hub Wire Protocol",
		Description: fmt.Sprintf("Websocket frames exchanged with the scene hub, protocol version %d.", proto.Version),
		OneOf: []*jsonschema.Schema{
			frame(proto.ClientMessage{}, "Client Message",
				"Inbound envelope: scene_data, add_object, remove_object or update_object."),
			frame(proto.ServerMessage{}, "Server Message",
				"Outbound event: scene_data reply or an object_added, object_removed or object_updated broadcast."),
			frame(proto.CommandAck{}, "Command Ack",
				"Sent to the originator of a sequenced command that was applied."),
			frame(proto.CommandReject{}, "Command Reject",
				"Sent to the originator of a command that was refused."),
			frame(sceneDocument{}, "Scene Snapshot",
				"Payload of scene_data replies and the persisted snapshot document."),
			object,
		},
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
