package postgres

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/types"
)

type snapshotModel struct {
	grove.BaseModel `grove:"table:stockpile_snapshots"`

	ID        string            `grove:"id,pk"`
	StoreID   string            `grove:"store_id"`
	Kind      string            `grove:"kind"`
	Version   int64             `grove:"version"`
	Blob      []byte            `grove:"blob,type:bytea"`
	Metadata  map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toSnapshotModel(s *state.Snapshot) *snapshotModel {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]string{}
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
	if len(m.Metadata) > 0 {
		meta = m.Metadata
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
