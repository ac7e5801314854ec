package btree

import "github.com/frankensqlite/frankensqlite/storage"

// PageSource is the page-level dependency both table and index trees need:
// read a page, write a page back, allocate a fresh one. Declared here
// (rather than imported from mvcc) so btree has no import on the mvcc
// package; mvcc.Transaction satisfies this interface structurally, letting
// the VDBE open a btree.Cursor directly against a transaction's versioned
// view without btree and mvcc depending on each other.
type PageSource interface {
	ReadPage(no storage.PageNumber) (*storage.Page, error)
	WritePage(pg *storage.Page) error
	AllocatePage() (storage.PageNumber, error)
}
