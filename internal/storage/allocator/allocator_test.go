package allocator

import (
	"path/filepath"
	"testing"

	"github.com/nainya/triplestore/internal/storage/bufferpool"
	"github.com/nainya/triplestore/internal/storage/file"
	"github.com/nainya/triplestore/internal/storage/page"
)

func newTestFile(t *testing.T) *file.DatabaseFile {
	t.Helper()
	dir := t.TempDir()
	pool := bufferpool.New(64)
	f, err := file.Create(filepath.Join(dir, "alloc.db"), pool)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.InitializeEmpty(page.Superblock{Version: page.FormatVersion}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestAllocateAndFreeReuse(t *testing.T) {
	f := newTestFile(t)
	a, err := Create(f, 2)
	if err != nil {
		t.Fatalf("create allocator: %v", err)
	}

	p1, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	p2, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct pages, got %d twice", p1)
	}

	if err := a.Free(p1); err != nil {
		t.Fatalf("free: %v", err)
	}
	p3, err := a.Allocate()
	if err != nil {
		t.Fatalf("allocate after free: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("expected reuse of freed page %d, got %d", p1, p3)
	}
}

func TestAllocatorGrowsBeyondInitialCapacity(t *testing.T) {
	f := newTestFile(t)
	a, err := Create(f, 2)
	if err != nil {
		t.Fatalf("create allocator: %v", err)
	}
	seen := make(map[page.ID]bool)
	for i := 0; i < bitsPerPage+10; i++ {
		p, err := a.Allocate()
		if err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if seen[p] {
			t.Fatalf("allocate returned duplicate page id %d", p)
		}
		seen[p] = true
	}
	if a.BitmapPageCount() < 2 {
		t.Fatalf("expected bitmap to have grown past one page, got %d", a.BitmapPageCount())
	}
}

func TestAllocatorLoadRoundTrip(t *testing.T) {
	f := newTestFile(t)
	a, err := Create(f, 2)
	if err != nil {
		t.Fatalf("create allocator: %v", err)
	}
	p1, _ := a.Allocate()
	p2, _ := a.Allocate()
	if err := a.Free(p1); err != nil {
		t.Fatalf("free: %v", err)
	}

	loaded, err := Load(f, a.FirstBitmapPage(), 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p3, err := loaded.Allocate()
	if err != nil {
		t.Fatalf("allocate after load: %v", err)
	}
	if p3 != p1 {
		t.Fatalf("expected loaded allocator to reuse freed page %d, got %d", p1, p3)
	}
	_ = p2
}
