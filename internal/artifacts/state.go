package artifacts

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/Veraticus/the-spice-must-score/internal/common"
)

type stateEnvelope struct {
	Schema        string
	Payload       []byte
	SchemaVersion int
}

// EncodeState gob-encodes v inside an envelope tagged with schema and version.
func EncodeState(schema string, schemaVersion int, v any) ([]byte, error) {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode %s state: %w", schema, err)
	}

	var out bytes.Buffer
	env := stateEnvelope{Schema: schema, SchemaVersion: schemaVersion, Payload: payload.Bytes()}
	if err := gob.NewEncoder(&out).Encode(env); err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", schema, err)
	}
	return out.Bytes(), nil
}

// DecodeState decodes blob into v. A blob written for a different schema or
// schema version is rejected with common.ErrInvalidArtifact.
func DecodeState(blob []byte, schema string, schemaVersion int, v any) error {
	var env stateEnvelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return fmt.Errorf("%w: %s envelope: %w", common.ErrInvalidArtifact, schema, err)
	}
	if env.Schema != schema {
		return fmt.Errorf("%w: expected schema %q, got %q", common.ErrInvalidArtifact, schema, env.Schema)
	}
	if env.SchemaVersion != schemaVersion {
		return fmt.Errorf("%w: %s schema version %d, expected %d",
			common.ErrInvalidArtifact, schema, env.SchemaVersion, schemaVersion)
	}
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(v); err != nil {
		return fmt.Errorf("%w: %s state: %w", common.ErrInvalidArtifact, schema, err)
	}
	return nil
}
