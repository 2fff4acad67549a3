package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"pkt.systems/expertsurvey/schema"
)

func sampleRoster() schema.Roster {
	return schema.Roster{
		Columns: []string{"Age", "SEX", schema.ColClaimedBy},
		Rows: []map[string]string{
			{"Age": "54", "SEX": "F", schema.ColClaimedBy: ""},
			{"Age": "61", "SEX": "M", schema.ColClaimedBy: ""},
		},
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected missing snapshot")
	}
}

func TestStoreReplaceLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.Replace(ctx, sampleRoster()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := reopened.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, sampleRoster()) {
		t.Fatalf("roster mismatch:\nwant %+v\ngot  %+v", sampleRoster(), got)
	}
	info, err := os.Stat(filepath.Join(dir, "roster.json"))
	if err != nil {
		t.Fatalf("stat snapshot: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 snapshot, got %v", info.Mode().Perm())
	}
}

func TestStoreSaveRowPersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	if err := store.Replace(ctx, sampleRoster()); err != nil {
		t.Fatalf("replace: %v", err)
	}
	cells := map[string]string{"Age": "61", "SEX": "M", schema.ColClaimedBy: "ana@example.org"}
	if err := store.SaveRow(ctx, 2, cells); err != nil {
		t.Fatalf("save row: %v", err)
	}
	cells["Age"] = "mutated"

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, _, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Cell(2, schema.ColClaimedBy) != "ana@example.org" || got.Cell(2, "Age") != "61" {
		t.Fatalf("unexpected row 2: %+v", got.Rows[1])
	}
	if err := store.SaveRow(ctx, 5, cells); !errors.Is(err, schema.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreRejectsUnknownVersion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "roster.json"), []byte(`{"version":9,"roster":{"columns":[],"rows":[]}}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, _, err := store.Load(context.Background()); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestNewStoreRequiresDir(t *testing.T) {
	if _, err := NewStore("  "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
