package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"flowarena/internal/record"
)

// roomCollections documents the shape of one room as stored.
type roomCollections struct {
	Players    map[string]record.Player    `json:"players,omitempty"`
	Flows      map[string]record.Flow      `json:"flows,omitempty"`
	Highscores map[string]record.Highscore `json:"highscores,omitempty"`
	Meta       struct {
		LastSpawn       int64 `json:"lastSpawn,omitempty"`
		LastHazardSpawn int64 `json:"lastHazardSpawn,omitempty"`
	} `json:"meta"`
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
	}
	schema := reflector.Reflect(new(roomCollections))
	schema.Title = "flowarena room"
	schema.Description = "Players, flows, highscores and spawn gates of one shared room"
	return schema
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
	return os.Rename(tmpPath, outPath)
}
