package timeframe

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func TestAlignDown_Minutes(t *testing.T) {
	ts := mustParse(t, "2024-01-02T00:07:23Z")
	got, err := AlignDown(ts, M5)
	if err != nil {
		t.Fatal(err)
	}
	want := mustParse(t, "2024-01-02T00:05:00Z")
	if !got.Equal(want) {
		t.Errorf("AlignDown(M5) = %v, want %v", got, want)
	}
}

func TestAlignDown_BoundaryIsInclusiveLeftEdge(t *testing.T) {
	ts := mustParse(t, "2024-01-02T00:05:00Z")
	got, err := AlignDown(ts, M5)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(ts) {
		t.Errorf("AlignDown at exact boundary = %v, want %v (itself)", got, ts)
	}
}

func TestAlignDown_Week(t *testing.T) {
	// 2024-01-04 is a Thursday.
	ts := mustParse(t, "2024-01-04T12:00:00Z")
	got, err := AlignDown(ts, W1)
	if err != nil {
		t.Fatal(err)
	}
	want := mustParse(t, "2024-01-01T00:00:00Z") // Monday
	if !got.Equal(want) {
		t.Errorf("AlignDown(W1) = %v, want %v", got, want)
	}
}

func TestAlignDown_Month(t *testing.T) {
	ts := mustParse(t, "2024-03-17T23:59:59Z")
	got, err := AlignDown(ts, MN1)
	if err != nil {
		t.Fatal(err)
	}
	want := mustParse(t, "2024-03-01T00:00:00Z")
	if !got.Equal(want) {
		t.Errorf("AlignDown(MN1) = %v, want %v", got, want)
	}
}

func TestAlignDown_UnknownTimeframe(t *testing.T) {
	if _, err := AlignDown(time.Now(), Timeframe("bogus")); err == nil {
		t.Error("expected error for unknown timeframe")
	}
}

func TestDuration(t *testing.T) {
	d, err := Duration(H1)
	if err != nil {
		t.Fatal(err)
	}
	if d != time.Hour {
		t.Errorf("Duration(H1) = %v, want 1h", d)
	}
}

func TestValid(t *testing.T) {
	if !M1.Valid() {
		t.Error("M1 should be valid")
	}
	if Timeframe("M2").Valid() {
		t.Error("M2 should not be valid")
	}
}
