package db

import (
	"github.com/nainya/triplestore/internal/storage/allocator"
	"github.com/nainya/triplestore/internal/storage/file"
	"github.com/nainya/triplestore/internal/storage/page"
)

// pageStore adapts a *file.DatabaseFile plus *allocator.Allocator to the
// btree.PageStore / tombstone.PageStore shape: both subpackages want
// ReadPage/WritePage returning a plain []byte and AllocatePage/FreePage,
// while file.DatabaseFile leases pool buffers and the allocator's methods
// are named Allocate/Free. The Database is the only place that sees both
// concrete types, so it is the natural owner of the adapter.
type pageStore struct {
	file  *file.DatabaseFile
	alloc *allocator.Allocator
}

func newPageStore(f *file.DatabaseFile, a *allocator.Allocator) *pageStore {
	return &pageStore{file: f, alloc: a}
}

func (s *pageStore) ReadPage(id page.ID) ([]byte, error) {
	buf, err := s.file.ReadPage(id)
	if err != nil {
		return nil, err
	}
	defer buf.Release()
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

func (s *pageStore) WritePage(id page.ID, data []byte) error {
	return s.file.WritePage(id, data)
}

func (s *pageStore) AllocatePage() (page.ID, error) {
	return s.alloc.Allocate()
}

func (s *pageStore) FreePage(id page.ID) error {
	return s.alloc.Free(id)
}
