package parser

import "testing"

func TestParseSelectWithWhere(t *testing.T) {
	stmt, err := NewParser(`SELECT * FROM users WHERE id = 7`).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sel, ok := stmt.(*SelectStatement)
	if !ok {
		t.Fatalf("expected *SelectStatement, got %T", stmt)
	}
	if sel.From != "users" {
		t.Fatalf("expected From=users, got %q", sel.From)
	}
	where, ok := sel.Where.(*BinaryExpr)
	if !ok {
		t.Fatalf("expected BinaryExpr where, got %T", sel.Where)
	}
	if where.Op != TokenEQ {
		t.Fatalf("expected EQ op, got %v", where.Op)
	}
}

func TestParseInsert(t *testing.T) {
	stmt, err := NewParser(`INSERT INTO users (id, name) VALUES (1, 'alice')`).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ins, ok := stmt.(*InsertStatement)
	if !ok {
		t.Fatalf("expected *InsertStatement, got %T", stmt)
	}
	if ins.Table != "users" {
		t.Fatalf("expected Table=users, got %q", ins.Table)
	}
	if len(ins.Rows) != 1 || len(ins.Rows[0]) != 2 {
		t.Fatalf("expected one row of two fields, got %+v", ins.Rows)
	}
}

func TestParseUpdateAndDelete(t *testing.T) {
	if _, err := NewParser(`UPDATE users SET name = 'bob' WHERE id = 1`).Parse(); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := NewParser(`DELETE FROM users WHERE id = 1 AND name = 'bob'`).Parse(); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestParseUnsupportedStatement(t *testing.T) {
	if _, err := NewParser(`CREATE TABLE users (id INT)`).Parse(); err == nil {
		t.Fatal("expected error for unsupported CREATE TABLE statement")
	}
}
