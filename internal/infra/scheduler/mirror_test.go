package scheduler

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/vietddude/calcwatch/internal/core/domain"
	"github.com/vietddude/calcwatch/internal/infra/storage"
	"github.com/vietddude/calcwatch/internal/infra/storage/memory"
)

func readMirror(t *testing.T, path string) map[string]MirrorEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries map[string]MirrorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("Mirror file is not valid JSON: %v", err)
	}
	return entries
}

func TestMirrorRecordAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status", "jobs.json")
	m := NewMirror(path)

	calc := &domain.Calculation{
		ID: "calc-1", MaterialID: "mat-1",
		Type:      domain.CalcTypeRelaxation,
		InputFile: "/work/mat-1/relax.in",
	}
	m.Record("job-7", calc)

	entries := readMirror(t, path)
	e, ok := entries["job-7"]
	if !ok {
		t.Fatalf("Expected job-7 in mirror, got %v", entries)
	}
	if e.CalcID != "calc-1" || e.CalcType != "relaxation" || e.File != "/work/mat-1/relax.in" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.SubmittedTime.IsZero() {
		t.Error("Expected submitted time")
	}

	m.Remove("job-7")
	if entries := readMirror(t, path); len(entries) != 0 {
		t.Errorf("Expected empty mirror after removal, got %v", entries)
	}

	// Removing an unknown job is a no-op, not an error.
	m.Remove("job-nope")
}

func TestMirrorRebuildFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	// Stale content that must be discarded.
	if err := os.WriteFile(path, []byte(`{"job-old":{"calc_id":"gone"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	store := memory.NewStore(memory.NewMemoryStorage())
	ctx := context.Background()

	calc := &domain.Calculation{
		ID: "calc-1", MaterialID: "mat-1",
		Type:      domain.CalcTypeSinglePoint,
		Status:    domain.CalcStatusPending,
		InputFile: "/work/sp.in",
		Settings:  domain.DefaultSettings(domain.CalcTypeSinglePoint),
	}
	if err := store.Calculations.Create(ctx, calc); err != nil {
		t.Fatal(err)
	}
	if err := store.Calculations.UpdateStatus(ctx, "calc-1", domain.CalcStatusSubmitted, storage.StatusUpdate{JobID: "job-9"}); err != nil {
		t.Fatal(err)
	}

	m := NewMirror(path)
	if err := m.Rebuild(ctx, store.Calculations); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	entries := readMirror(t, path)
	if _, ok := entries["job-old"]; ok {
		t.Error("Stale entry survived the rebuild")
	}
	e, ok := entries["job-9"]
	if !ok {
		t.Fatalf("Expected job-9 after rebuild, got %v", entries)
	}
	if e.CalcID != "calc-1" || e.MaterialID != "mat-1" {
		t.Errorf("Unexpected entry: %+v", e)
	}
	if e.SubmittedTime.IsZero() {
		t.Error("Expected submitted time from the store")
	}
}
