package vmem

import (
	"testing"

	cmerrors "github.com/nativewasm/codemanager/errors"
)

func TestRegion_ReserveCommitRelease(t *testing.T) {
	size := 2 * PageSize()
	r, err := Reserve(0, size, PageSize())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if !r.Reserved() {
		t.Fatal("expected Reserved() == true after Reserve")
	}
	if r.Size() != size {
		t.Fatalf("Size() = %d, want %d", r.Size(), size)
	}

	if err := r.Commit(r.Base(), size, RW); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := r.SetPermissions(r.Base(), size, RX); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	if err := r.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if r.Reserved() {
		t.Fatal("expected Reserved() == false after Release")
	}

	// Release is idempotent.
	if err := r.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestRegion_CommitOutsideRangeRejected(t *testing.T) {
	r, err := Reserve(0, PageSize(), PageSize())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer r.Release()

	err = r.Commit(r.Base()+r.Size(), PageSize(), RW)
	if err == nil {
		t.Fatal("expected an error committing outside the region")
	}
	cerr, ok := err.(*cmerrors.Error)
	if !ok {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if cerr.Kind != cmerrors.KindInvalidInput {
		t.Fatalf("Kind = %v, want %v", cerr.Kind, cmerrors.KindInvalidInput)
	}
}

func TestRegion_SizeRoundedUpToPage(t *testing.T) {
	r, err := Reserve(0, 1, PageSize())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer r.Release()

	if r.Size() != PageSize() {
		t.Fatalf("Size() = %d, want %d", r.Size(), PageSize())
	}
}

func TestRegion_HigherAlignment(t *testing.T) {
	const align = 64 * 1024 // larger than the page size on every supported platform
	r, err := Reserve(0, PageSize(), align)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer r.Release()

	if r.Base()%align != 0 {
		t.Fatalf("Base() = 0x%x is not aligned to 0x%x", r.Base(), align)
	}
}

func TestRoundUpPage(t *testing.T) {
	if got := RoundUpPage(1); got != PageSize() {
		t.Fatalf("RoundUpPage(1) = %d, want %d", got, PageSize())
	}
	if got := RoundUpPage(PageSize()); got != PageSize() {
		t.Fatalf("RoundUpPage(PageSize()) = %d, want %d", got, PageSize())
	}
}
