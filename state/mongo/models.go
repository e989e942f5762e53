package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/types"
)

type snapshotModel struct {
	grove.BaseModel `grove:"table:stockpile_snapshots"`

	ID        string            `grove:"id,pk"      bson:"_id"`
	StoreID   string            `grove:"store_id"   bson:"store_id"`
	Kind      string            `grove:"kind"       bson:"kind"`
	Version   int64             `grove:"version"    bson:"version"`
	Blob      []byte            `grove:"blob"       bson:"blob"`
	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toSnapshotModel(s *state.Snapshot) *snapshotModel {
	return &snapshotModel{
		ID:        s.ID.String(),
		StoreID:   s.StoreID.String(),
		Kind:      s.Kind,
		Version:   s.Version,
		Blob:      s.Blob,
		Metadata:  s.Metadata,
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
		Metadata: m.Metadata,
	}, nil
}
