package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"economy_service/internal/economy"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// worldSaveSchema checks only the outer shape of a save and the revision
// precondition. A mistyped world field is dropped by economy.ParseWorld
// rather than failing the whole save.
const worldSaveSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "expected_revision": {"type": ["integer", "null"], "minimum": 0},
    "buildings": {"maxItems": 2000},
    "obstacles": {"maxItems": 2000}
  }
}`

func compileWorldSchema() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("world_save.json", worldSaveSchema)
}

type worldSave struct {
	ExpectedRevision *int64 `json:"expected_revision"`
}

// decodeWorldSave validates raw against the schema and returns the normalized
// world plus the optional revision precondition.
func decodeWorldSave(schema *jsonschema.Schema, raw []byte) (economy.IncomingWorld, *int64, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return economy.IncomingWorld{}, nil, fmt.Errorf("%w: %v", economy.ErrMalformedWorld, err)
	}
	if err := schema.Validate(doc); err != nil {
		return economy.IncomingWorld{}, nil, fmt.Errorf("%w: %v", economy.ErrMalformedWorld, err)
	}

	var meta worldSave
	if err := json.Unmarshal(raw, &meta); err != nil {
		return economy.IncomingWorld{}, nil, fmt.Errorf("%w: %v", economy.ErrMalformedWorld, err)
	}
	in, err := economy.ParseWorld(raw)
	if err != nil {
		return economy.IncomingWorld{}, nil, err
	}
	return in, meta.ExpectedRevision, nil
}
