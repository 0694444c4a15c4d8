package volumecache

import "testing"

func TestUpdateAndAverage(t *testing.T) {
	c := New(3)
	if c.Ready() {
		t.Fatal("empty cache should not be ready")
	}
	c.Update(10)
	c.Update(20)
	if !c.Ready() {
		t.Fatal("cache with samples should be ready")
	}
	if got := c.Average(); got != 15 {
		t.Errorf("Average() = %v, want 15", got)
	}
}

func TestEviction(t *testing.T) {
	c := New(3)
	c.Update(1)
	c.Update(2)
	c.Update(3)
	c.Update(4) // evicts 1
	if got := c.Average(); got != 3 {
		t.Errorf("Average() = %v, want 3 (2+3+4)/3", got)
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestNegativeIgnored(t *testing.T) {
	c := New(2)
	c.Update(5)
	c.Update(-1)
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (negative sample ignored)", c.Len())
	}
	if got := c.Average(); got != 5 {
		t.Errorf("Average() = %v, want 5", got)
	}
}

func TestReset(t *testing.T) {
	c := New(2)
	c.Update(5)
	c.Update(7)
	c.Reset()
	if c.Ready() {
		t.Fatal("cache should not be ready after Reset")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	c.Update(9)
	if got := c.Average(); got != 9 {
		t.Errorf("Average() after reset+update = %v, want 9", got)
	}
}

func TestAveragePanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic calling Average on empty cache")
		}
	}()
	New(1).Average()
}

func TestNewPanicsOnNonPositiveLookback(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for lookback <= 0")
		}
	}()
	New(0)
}
