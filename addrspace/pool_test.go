package addrspace

import "testing"

func rangesEqual(a, b []Range) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPool_MergeCoalescing(t *testing.T) {
	p := &Pool{ranges: []Range{{0, 100}, {200, 300}, {400, 500}}}

	p.Merge(Range{100, 200})
	want := []Range{{0, 300}, {400, 500}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("after first merge: got %v, want %v", p.Ranges(), want)
	}

	p.Merge(Range{300, 400})
	want = []Range{{0, 500}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("after second merge: got %v, want %v", p.Ranges(), want)
	}
}

func TestPool_MergeAdjacentOnBothSides(t *testing.T) {
	p := &Pool{ranges: []Range{{0, 100}, {200, 300}}}
	p.Merge(Range{100, 200})

	want := []Range{{0, 300}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("got %v, want %v", p.Ranges(), want)
	}
}

func TestPool_MergeAppendWhenNoOverlap(t *testing.T) {
	p := NewPool()
	p.Merge(Range{100, 200})

	want := []Range{{100, 200}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("got %v, want %v", p.Ranges(), want)
	}
}

func TestPool_MergeInsertBeforeWithGap(t *testing.T) {
	p := &Pool{ranges: []Range{{500, 600}}}
	p.Merge(Range{0, 100})

	want := []Range{{0, 100}, {500, 600}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("got %v, want %v", p.Ranges(), want)
	}
}

func TestPool_MergeExtendDownward(t *testing.T) {
	p := &Pool{ranges: []Range{{500, 600}}}
	p.Merge(Range{400, 500})

	want := []Range{{400, 600}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("got %v, want %v", p.Ranges(), want)
	}
}

func TestPool_AllocateFirstFit(t *testing.T) {
	p := &Pool{ranges: []Range{{0, 10}, {20, 100}}}

	got, ok := p.Allocate(5)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if got != (Range{0, 5}) {
		t.Fatalf("got %v, want [0,5)", got)
	}
	want := []Range{{5, 10}, {20, 100}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("remaining pool = %v, want %v", p.Ranges(), want)
	}
}

func TestPool_AllocateExactConsumesRange(t *testing.T) {
	p := &Pool{ranges: []Range{{0, 10}, {20, 100}}}

	got, ok := p.Allocate(10)
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if got != (Range{0, 10}) {
		t.Fatalf("got %v", got)
	}
	want := []Range{{20, 100}}
	if !rangesEqual(p.Ranges(), want) {
		t.Fatalf("remaining pool = %v, want %v", p.Ranges(), want)
	}
}

func TestPool_AllocateNoneFits(t *testing.T) {
	p := &Pool{ranges: []Range{{0, 10}}}

	_, ok := p.Allocate(11)
	if ok {
		t.Fatal("expected allocation to fail")
	}
}

func TestPool_AllocateZeroSize(t *testing.T) {
	p := &Pool{ranges: []Range{{0, 10}}}

	got, ok := p.Allocate(0)
	if !ok || !got.Empty() {
		t.Fatalf("Allocate(0) = (%v, %v), want (empty, true)", got, ok)
	}
	if p.Len() != 1 {
		t.Fatal("Allocate(0) must not mutate the pool")
	}
}

// L2: merge/allocate round trip on an otherwise empty pool.
func TestPool_MergeAllocateRoundTrip(t *testing.T) {
	p := NewPool()
	r := Range{1000, 2000}

	p.Merge(r)
	got, ok := p.Allocate(r.Size())
	if !ok {
		t.Fatal("expected allocation to succeed")
	}
	if got != r {
		t.Fatalf("got %v, want %v", got, r)
	}
	if p.Len() != 0 {
		t.Fatalf("pool should be empty after round trip, got %v", p.Ranges())
	}
}

func TestRange_Contains(t *testing.T) {
	r := Range{100, 200}
	if !r.Contains(100) {
		t.Error("should contain start")
	}
	if r.Contains(200) {
		t.Error("should not contain end (half-open)")
	}
	if !r.Contains(199) {
		t.Error("should contain end-1")
	}
}

func TestRange_Overlaps(t *testing.T) {
	a := Range{0, 100}
	if !a.Overlaps(Range{50, 150}) {
		t.Error("expected overlap")
	}
	if a.Overlaps(Range{100, 200}) {
		t.Error("half-open ranges touching at a boundary do not overlap")
	}
	if a.Overlaps(Range{}) {
		t.Error("empty range never overlaps")
	}
}
