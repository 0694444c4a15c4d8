package cacheindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAddAndContains(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add("EURUSD", "ticks", "2024-01-02"); err != nil {
		t.Fatal(err)
	}
	if !idx.Contains("EURUSD", "ticks", "2024-01-02") {
		t.Error("expected day to be marked cached")
	}
	if idx.Contains("EURUSD", "ticks", "2024-01-03") {
		t.Error("uncached day should not report cached")
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add("EURUSD", "M1", "2024-01-02"); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Contains("EURUSD", "M1", "2024-01-02") {
		t.Error("expected persisted day to survive reopen")
	}
}

func TestCoverage(t *testing.T) {
	dir := t.TempDir()
	idx, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	idx.Add("EURUSD", "ticks", "2024-01-02")
	idx.Add("EURUSD", "ticks", "2024-01-04")

	start := mustDay(t, "2024-01-01")
	end := mustDay(t, "2024-01-04")
	cached, missing := idx.Coverage("EURUSD", "ticks", start, end)

	if len(cached) != 2 {
		t.Errorf("expected 2 cached days, got %v", cached)
	}
	if len(missing) != 2 {
		t.Errorf("expected 2 missing days, got %v", missing)
	}
}

func TestInvalidate(t *testing.T) {
	dir := t.TempDir()
	idx, _ := Open(dir)
	idx.Add("EURUSD", "ticks", "2024-01-02")
	idx.Invalidate("2024-01-02")
	if idx.Contains("EURUSD", "ticks", "2024-01-02") {
		t.Error("expected day to be invalidated")
	}
}

func TestRebuildFromFilesystem(t *testing.T) {
	dir := t.TempDir()
	shardDir := filepath.Join(dir, "2024", "01", "02", "ticks")
	if err := os.MkdirAll(shardDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(shardDir, "EURUSD.jsonl.gz"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.RebuildFromFilesystem(); err != nil {
		t.Fatal(err)
	}
	if !idx.Contains("EURUSD", "ticks", "2024-01-02") {
		t.Error("expected rebuild to discover shard from filesystem layout")
	}
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}
