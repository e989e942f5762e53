package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	storeID := id.NewStoreID()

	snap := state.New(storeID, "tank", 1, []byte{1, 2, 3})
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	snap.Blob[0] = 9

	got, err := s.GetSnapshot(ctx, storeID)
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if got.Blob[0] != 1 {
		t.Error("stored blob aliases the caller's slice")
	}
	if got.Kind != "tank" || got.Version != 1 || got.ID.String() != snap.ID.String() {
		t.Errorf("unexpected snapshot %+v", got)
	}
}

func TestUpsertKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	s := New()
	storeID := id.NewStoreID()

	first := state.New(storeID, "tank", 1, []byte{1})
	if err := s.SaveSnapshot(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := state.New(storeID, "tank", 2, []byte{2})
	if err := s.SaveSnapshot(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSnapshot(ctx, storeID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != first.ID.String() {
		t.Errorf("ID: got %s, want %s", got.ID, first.ID)
	}
	if got.Version != 2 || got.Blob[0] != 2 {
		t.Errorf("upsert did not replace contents: %+v", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len: got %d, want 1", s.Len())
	}
}

func TestGetMissing(t *testing.T) {
	_, err := New().GetSnapshot(context.Background(), id.NewStoreID())
	if !errors.Is(err, stockpile.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestListFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	s := New()

	var batch []*state.Snapshot
	for i := range 5 {
		kind := "tank"
		if i%2 == 1 {
			kind = "bin"
		}
		batch = append(batch, state.New(id.NewStoreID(), kind, 1, nil))
	}
	if err := s.SaveBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts state.ListOpts
		want int
	}{
		{"all", state.ListOpts{}, 5},
		{"tanks", state.ListOpts{Kind: "tank"}, 3},
		{"bins", state.ListOpts{Kind: "bin"}, 2},
		{"limit", state.ListOpts{Limit: 2}, 2},
		{"offset", state.ListOpts{Offset: 4}, 1},
		{"offset past end", state.ListOpts{Offset: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListSnapshots(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d snapshots, want %d", len(got), tt.want)
			}
		})
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	storeID := id.NewStoreID()
	if err := s.SaveSnapshot(ctx, state.New(storeID, "bin", 1, nil)); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteSnapshot(ctx, storeID); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if err := s.DeleteSnapshot(ctx, storeID); !errors.Is(err, stockpile.ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx); !errors.Is(err, stockpile.ErrStoreClosed) {
		t.Errorf("Ping: got %v", err)
	}
	if err := s.SaveSnapshot(ctx, state.New(id.NewStoreID(), "tank", 1, nil)); !errors.Is(err, stockpile.ErrStoreClosed) {
		t.Errorf("SaveSnapshot: got %v", err)
	}
}
