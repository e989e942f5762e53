package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/types"
)

type snapshotModel struct {
	grove.BaseModel `grove:"table:stockpile_snapshots"`

	ID        string    `grove:"id,pk"`
	StoreID   string    `grove:"store_id"`
	Kind      string    `grove:"kind"`
	Version   int64     `grove:"version"`
	Blob      []byte    `grove:"blob"`
	Metadata  string    `grove:"metadata"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toSnapshotModel(s *state.Snapshot) *snapshotModel {
	meta := "{}"
	if len(s.Metadata) > 0 {
		b, _ := json.Marshal(s.Metadata) //nolint:errcheck // map[string]string always marshals
		meta = string(b)
	}
	return &snapshotModel{
		ID:        s.ID.String(),
		StoreID:   s.StoreID.String(),
		Kind:      s.Kind,
		Version:   s.Version,
		Blob:      s.Blob,
		Metadata:  meta,
		CreatedAt: s.CreatedAt,
		UpdatedAt: now(),
	}
}

func fromSnapshotModel(m *snapshotModel) (*state.Snapshot, error) {
	snapID, err := id.ParseSnapshotID(m.ID)
	if err != nil {
		return nil, err
	}
	storeID, err := id.Parse(m.StoreID)
	if err != nil {
		return nil, err
	}

	var meta map[string]string
	if m.Metadata != "" && m.Metadata != "{}" {
		if err := json.Unmarshal([]byte(m.Metadata), &meta); err != nil {
			return nil, err
		}
	}

	return &state.Snapshot{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       snapID,
		StoreID:  storeID,
		Kind:     m.Kind,
		Version:  m.Version,
		Blob:     m.Blob,
		Metadata: meta,
	}, nil
}
