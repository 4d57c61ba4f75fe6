package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_reminders.sql":    "SELECT 10;",
		"002_appointments.sql": "SELECT 2;",
		"001_scheduling.sql":   "SELECT 1;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 10} {
		if migrations[i].Version != want {
			t.Errorf("migration[%d]: expected version %d, got %d", i, want, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsInvalidNames(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_valid.sql":   "SELECT 1;",
		"readme.sql":      "-- no prefix",
		"notes.txt":       "not sql",
		"abc_invalid.sql": "-- non-numeric prefix",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_valid.sql" {
		t.Fatalf("expected only 001_valid.sql, got %+v", migrations)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	if _, err := NewMigrator(nil, filepath.Join(t.TempDir(), "nope")).LoadMigrations(); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestPendingAndStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_scheduling.sql"},
		{Version: 2, Name: "002_reminders.sql"},
	}
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	pending := Pending(migrations, applied)
	if len(pending) != 1 || pending[0].Version != 2 {
		t.Fatalf("expected only version 2 pending, got %+v", pending)
	}

	statuses := BuildStatus(migrations, applied)
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected version 1 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected version 2 pending, got %+v", statuses[1])
	}
}

func TestRepoMigrationsLoad(t *testing.T) {
	migrations, err := NewMigrator(nil, "../../../migrations").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 {
		t.Fatalf("expected the scheduling migration first, got %+v", migrations)
	}
}
