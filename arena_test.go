package executor

import "testing"

func TestArena_AllocateDeallocateRoundTrip(t *testing.T) {
	a, err := NewArena(4)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	var cells []*Cell
	for i := 0; i < 4; i++ {
		cell, ok := a.Allocate()
		if !ok {
			t.Fatalf("Allocate #%d: expected ok", i)
		}
		cells = append(cells, cell)
	}

	if _, ok := a.Allocate(); ok {
		t.Fatal("Allocate beyond capacity should report false, not grow")
	}

	stats := a.Stats()
	if stats.Active != 4 || stats.Peak != 4 || stats.Allocs != 4 {
		t.Fatalf("unexpected stats after fill: %+v", stats)
	}

	for _, c := range cells {
		if !a.Deallocate(c) {
			t.Fatal("Deallocate of a live cell should succeed")
		}
	}

	stats = a.Stats()
	if stats.Active != 0 || stats.Deallocs != 4 {
		t.Fatalf("unexpected stats after drain: %+v", stats)
	}

	// The freed slots must be reusable (LIFO free list).
	for i := 0; i < 4; i++ {
		if _, ok := a.Allocate(); !ok {
			t.Fatalf("Allocate after full drain #%d: expected ok", i)
		}
	}
}

func TestArena_DeallocateForeignCellRejected(t *testing.T) {
	a, err := NewArena(2)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer a.Close()

	other := &Cell{slot: 0}
	if a.Deallocate(other) {
		t.Fatal("Deallocate should reject a cell that doesn't belong to this arena")
	}
}

func TestArena_CloseIsIdempotent(t *testing.T) {
	a, err := NewArena(1)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestNewArena_RejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewArena(0); err == nil {
		t.Fatal("expected an error for zero capacity")
	}
	if _, err := NewArena(-1); err == nil {
		t.Fatal("expected an error for negative capacity")
	}
}
