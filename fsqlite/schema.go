package fsqlite

import (
	"fmt"
	"sync"

	"github.com/frankensqlite/frankensqlite/storage"
)

// TableDef records one table's column list and root page. fsqlite has no
// SQL DDL front-end (the parser package is scoped to DML — see
// parser/parser.go's doc comment), so schema changes go through the Go API
// below rather than CREATE TABLE text; a documented scoping decision, not an
// oversight.
type TableDef struct {
	Name     string
	Columns  []string
	RootPage storage.PageNumber
	Indexes  map[string]*IndexDef
}

// IndexDef records one secondary index's column and root page.
type IndexDef struct {
	Name     string
	Column   string
	RootPage storage.PageNumber
}

func (t *TableDef) columnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Schema is the in-memory table-name -> TableDef catalog a Connection holds.
// A real sqlite_master-backed catalog persisted in page 1 is future work
// (see DESIGN.md); this project keeps the catalog in memory and rebuilds it
// from CreateTable/CreateIndex calls made through the Go API each Open.
type Schema struct {
	mu     sync.RWMutex
	tables map[string]*TableDef
}

func newSchema() *Schema {
	return &Schema{tables: make(map[string]*TableDef)}
}

func (s *Schema) put(t *TableDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.Name] = t
}

func (s *Schema) get(name string) (*TableDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("fsqlite: no such table: %s", name)
	}
	return t, nil
}
