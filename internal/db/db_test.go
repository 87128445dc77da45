package db

import (
	"path/filepath"
	"testing"
	"time"
)

func TestMigrateIsIdempotent(t *testing.T) {
	d, err := NewDatabase(filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer d.Close()

	migrations := []Migration{
		{Version: 1, Name: "a", SQL: `CREATE TABLE a (id INTEGER)`},
		{Version: 2, Name: "b", SQL: `CREATE TABLE b (id INTEGER)`},
	}
	if err := d.Migrate(migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// A second run must skip applied steps; re-running CREATE TABLE would fail.
	if err := d.Migrate(migrations); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	v, err := d.SchemaVersion()
	if err != nil || v != 2 {
		t.Fatalf("SchemaVersion = %d, %v", v, err)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	d, err := NewDatabase(MemoryPath)
	if err != nil {
		t.Fatalf("NewDatabase: %v", err)
	}
	defer d.Close()

	err = d.Migrate([]Migration{{Version: 1, Name: "broken", SQL: `CREATE TABLE`}})
	if err == nil {
		t.Fatalf("broken migration succeeded")
	}
	if v, _ := d.SchemaVersion(); v != 0 {
		t.Fatalf("version after failure = %d", v)
	}
}

func newStore(t *testing.T, retention int) *DiagnosticsStore {
	t.Helper()
	s, err := NewDiagnosticsStore(filepath.Join(t.TempDir(), "diag.db"), retention)
	if err != nil {
		t.Fatalf("NewDiagnosticsStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newStore(t, 100)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	records := []DecodeFailure{
		{RecordedAt: base, Stream: "Client:1", Kind: "direct_damage", Field: "skill_code", Offset: 9, FrameHex: "0a04"},
		{RecordedAt: base.Add(time.Second), Stream: "Client:1", Kind: "direct_damage", Field: "damage_type", Offset: 12, FrameHex: "0b04"},
		{RecordedAt: base.Add(2 * time.Second), Stream: "Client:2", Kind: "pattern", Field: "skill_code", Offset: 3, FrameHex: "0c04"},
	}
	for _, r := range records {
		if err := s.Record(r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := s.Recent("", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || all[0].FrameHex != "0c04" {
		t.Fatalf("Recent = %+v", all)
	}
	if !all[2].RecordedAt.Equal(base) {
		t.Fatalf("recorded_at = %v, want %v", all[2].RecordedAt, base)
	}

	skill, err := s.Recent("skill_code", 10)
	if err != nil {
		t.Fatalf("Recent(skill_code): %v", err)
	}
	if len(skill) != 2 {
		t.Fatalf("filtered = %d rows", len(skill))
	}

	counts, err := s.CountsByField()
	if err != nil {
		t.Fatalf("CountsByField: %v", err)
	}
	if len(counts) != 2 || counts[0].Field != "skill_code" || counts[0].Total != 2 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestPruneKeepsNewestAndCounters(t *testing.T) {
	s := newStore(t, 3)
	for i := 0; i < 5; i++ {
		if err := s.Record(DecodeFailure{Stream: "Client:1", Kind: "direct_damage", Field: "header", FrameHex: "00"}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	removed, err := s.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if n, _ := s.Count(); n != 3 {
		t.Fatalf("rows after prune = %d", n)
	}

	counts, _ := s.CountsByField()
	if len(counts) != 1 || counts[0].Total != 5 {
		t.Fatalf("counter lost on prune: %+v", counts)
	}
}
