package fsqlite

import "testing"

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	conn, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return conn
}

func TestCreateTableAndInsertSelect(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name", "age"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	n, err := conn.Execute(`INSERT INTO users (id, name, age) VALUES (1, "alice", 30)`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row affected, got %d", n)
	}

	stmt, err := conn.Prepare("SELECT * FROM users")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Finalize()

	hasRow, err := stmt.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !hasRow {
		t.Fatalf("expected a row")
	}
	cols := stmt.ColumnNames()
	want := []string{"id", "name", "age"}
	for i, c := range want {
		if cols[i] != c {
			t.Fatalf("column %d: got %q, want %q", i, cols[i], c)
		}
	}
	name, err := stmt.Column(1)
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if name != "alice" {
		t.Fatalf("name = %v, want alice", name)
	}

	hasRow, err = stmt.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if hasRow {
		t.Fatalf("expected only one row")
	}
	if err := stmt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestWhereClauseFiltersRows(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name", "age"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	rows := []string{
		`INSERT INTO users (id, name, age) VALUES (1, "alice", 30)`,
		`INSERT INTO users (id, name, age) VALUES (2, "bob", 25)`,
		`INSERT INTO users (id, name, age) VALUES (3, "carol", 40)`,
	}
	for _, sql := range rows {
		if _, err := conn.Execute(sql); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	stmt, err := conn.Prepare("SELECT * FROM users WHERE age > 26")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Finalize()

	var names []string
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !hasRow {
			break
		}
		v, err := stmt.Column(1)
		if err != nil {
			t.Fatalf("Column: %v", err)
		}
		names = append(names, v.(string))
	}
	if err := stmt.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 rows with age > 26, got %d: %v", len(names), names)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name", "age"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := conn.Execute(`INSERT INTO users (id, name, age) VALUES (1, "alice", 30)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := conn.Execute(`INSERT INTO users (id, name, age) VALUES (2, "bob", 25)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := conn.Execute(`UPDATE users SET age = 31 WHERE name = "alice"`)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row updated, got %d", n)
	}

	stmt, err := conn.Prepare(`SELECT * FROM users WHERE name = "alice"`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	hasRow, err := stmt.Step()
	if err != nil || !hasRow {
		t.Fatalf("expected alice's row, err=%v hasRow=%v", err, hasRow)
	}
	age, err := stmt.Column(2)
	if err != nil {
		t.Fatalf("Column: %v", err)
	}
	if age != int64(31) {
		t.Fatalf("age = %v, want 31", age)
	}
	stmt.Finalize()

	n, err = conn.Execute(`DELETE FROM users WHERE name = "bob"`)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row deleted, got %d", n)
	}

	stmt, err = conn.Prepare("SELECT * FROM users")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Finalize()
	count := 0
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !hasRow {
			break
		}
		count++
	}
	if count != 1 {
		t.Fatalf("expected 1 row remaining after delete, got %d", count)
	}
}

func TestTransactionCommitAndAbort(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	err := conn.Transaction(func(tx *Tx) error {
		_, err := tx.Execute(`INSERT INTO users (id, name) VALUES (1, "alice")`)
		return err
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	countRows := func() int {
		stmt, err := conn.Prepare("SELECT * FROM users")
		if err != nil {
			t.Fatalf("Prepare: %v", err)
		}
		defer stmt.Finalize()
		n := 0
		for {
			hasRow, err := stmt.Step()
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
			if !hasRow {
				break
			}
			n++
		}
		stmt.Commit()
		return n
	}
	if got := countRows(); got != 1 {
		t.Fatalf("expected 1 row after committed transaction, got %d", got)
	}

	wantErr := errSentinel{}
	_ = conn.Transaction(func(tx *Tx) error {
		if _, err := tx.Execute(`INSERT INTO users (id, name) VALUES (2, "bob")`); err != nil {
			return err
		}
		return wantErr
	})
	if got := countRows(); got != 1 {
		t.Fatalf("expected aborted transaction to leave row count at 1, got %d", got)
	}
}

type errSentinel struct{}

func (errSentinel) Error() string { return "fsqlite: test-forced abort" }

func TestPragmaGetSet(t *testing.T) {
	conn := newTestConn(t)
	v, err := conn.Pragma("serializable")
	if err != nil {
		t.Fatalf("Pragma get: %v", err)
	}
	if v != "on" {
		t.Fatalf("serializable default = %q, want on", v)
	}
	if _, err := conn.Pragma("merge_ladder", "on"); err != nil {
		t.Fatalf("Pragma set: %v", err)
	}
	v, err = conn.Pragma("merge_ladder")
	if err != nil {
		t.Fatalf("Pragma get: %v", err)
	}
	if v != "on" {
		t.Fatalf("merge_ladder = %q, want on", v)
	}
	if _, err := conn.Pragma("no_such_pragma"); err == nil {
		t.Fatalf("expected error for unknown pragma")
	}
}

func TestSavepointRollback(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}

	err := conn.Transaction(func(tx *Tx) error {
		if _, err := tx.Execute(`INSERT INTO users (id, name) VALUES (1, "alice")`); err != nil {
			return err
		}
		if err := tx.Savepoint("sp1"); err != nil {
			return err
		}
		if _, err := tx.Execute(`INSERT INTO users (id, name) VALUES (2, "bob")`); err != nil {
			return err
		}
		if err := tx.RollbackTo("sp1"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transaction: %v", err)
	}

	stmt, err := conn.Prepare("SELECT * FROM users")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Finalize()
	count := 0
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			t.Fatalf("Step: %v", err)
		}
		if !hasRow {
			break
		}
		count++
	}
	stmt.Commit()
	if count != 1 {
		t.Fatalf("expected only alice's row to survive the rollback, got %d rows", count)
	}
}

func TestCreateIndex(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if err := conn.CreateIndex("idx_name", "users", "name"); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	if err := conn.CreateIndex("idx_bad", "users", "no_such_column"); err == nil {
		t.Fatalf("expected error indexing a nonexistent column")
	}
}

func TestCheckpointMovesWALFramesToMainFile(t *testing.T) {
	conn := newTestConn(t)
	if err := conn.CreateTable("users", []string{"id", "name"}); err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	if _, err := conn.Execute(`INSERT INTO users (id, name) VALUES (1, "alice")`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result, err := conn.Checkpoint("full")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !result.WALReset {
		t.Fatalf("expected a full checkpoint with no active readers to reset the WAL, got %+v", result)
	}
	if result.PagesWritten == 0 {
		t.Fatalf("expected at least one page checkpointed")
	}

	stmt, err := conn.Prepare("SELECT * FROM users")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer stmt.Finalize()
	hasRow, err := stmt.Step()
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !hasRow {
		t.Fatalf("expected alice's row to survive a checkpoint")
	}
}

func TestCheckpointRejectsUnknownMode(t *testing.T) {
	conn := newTestConn(t)
	if _, err := conn.Checkpoint("sideways"); err == nil {
		t.Fatalf("expected an error for an unknown checkpoint mode")
	}
}
