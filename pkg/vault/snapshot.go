package vault

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hamba/avro/v2"

	"github.com/driftflag/go-client/pkg/model"
)

// snapshotSchema is the avro envelope for persisted datafile snapshots.
// The datafile itself is carried as JSON bytes so the envelope stays
// stable while the datafile shape evolves.
const snapshotSchema = `{
	"type": "record",
	"name": "DatafileSnapshot",
	"namespace": "io.driftflag.vault",
	"fields": [
		{"name": "projectId", "type": "string"},
		{"name": "savedAt", "type": "string"},
		{"name": "payload", "type": "bytes"}
	]
}`

// Snapshot is the persisted form of a datafile.
type Snapshot struct {
	ProjectID string `avro:"projectId"`
	SavedAt   string `avro:"savedAt"`
	Payload   []byte `avro:"payload"`
}

func parsedSchema() (avro.Schema, error) {
	schema, err := avro.Parse(snapshotSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to parse snapshot schema: %w", err)
	}
	return schema, nil
}

// EncodeSnapshot wraps a datafile into an avro-encoded snapshot.
func EncodeSnapshot(datafile *model.Datafile, savedAt time.Time) ([]byte, error) {
	schema, err := parsedSchema()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(datafile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal datafile: %w", err)
	}

	snapshot := Snapshot{
		ProjectID: datafile.ProjectID,
		SavedAt:   savedAt.UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := avro.Marshal(schema, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot unwraps an avro-encoded snapshot back into a datafile.
func DecodeSnapshot(data []byte) (*model.Datafile, error) {
	schema, err := parsedSchema()
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := avro.Unmarshal(schema, data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	var datafile model.Datafile
	if err := json.Unmarshal(snapshot.Payload, &datafile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot payload: %w", err)
	}
	return &datafile, nil
}
