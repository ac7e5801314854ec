// Command fsqlite is a minimal CLI front-end over the fsqlite engine: run
// one-shot statements, and drop into an interactive shell.
// Grounded on JuniperBible's cmd/capsule (a kong CLI struct of cmd groups
// parsed once in main), narrowed to the handful of verbs this engine needs.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"

	"github.com/frankensqlite/frankensqlite/fsqlite"
)

var CLI struct {
	DB string `name:"db" short:"d" help:"Database file path (':memory:' for an in-memory database)" default:":memory:"`

	Exec  ExecCmd  `cmd:"" help:"Run one SQL statement and print any rows"`
	Shell ShellCmd `cmd:"" help:"Start an interactive SQL shell"`
}

type ExecCmd struct {
	SQL string `arg:"" help:"Statement to run"`
}

func (c *ExecCmd) Run(ctx *kong.Context) error {
	conn, err := fsqlite.Open(CLI.DB)
	if err != nil {
		return err
	}
	return runOne(conn, c.SQL)
}

type ShellCmd struct{}

func (c *ShellCmd) Run(ctx *kong.Context) error {
	conn, err := fsqlite.Open(CLI.DB)
	if err != nil {
		return err
	}
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprintf(os.Stdout, "fsqlite shell (%s) — statements end at newline, Ctrl-D to quit\n", CLI.DB)
	for {
		fmt.Fprint(os.Stdout, "fsqlite> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runOne(conn, line); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func runOne(conn *fsqlite.Conn, sql string) error {
	stmt, err := conn.Prepare(sql)
	if err != nil {
		return err
	}
	defer stmt.Finalize()

	printedHeader := false
	for {
		hasRow, err := stmt.Step()
		if err != nil {
			return err
		}
		if !hasRow {
			break
		}
		cols := stmt.ColumnNames()
		if !printedHeader && len(cols) > 0 {
			fmt.Fprintln(os.Stdout, strings.Join(cols, "\t"))
			printedHeader = true
		}
		vals := make([]string, len(cols))
		for i := range cols {
			v, err := stmt.Column(i)
			if err != nil {
				return err
			}
			vals[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(os.Stdout, strings.Join(vals, "\t"))
	}
	if err := stmt.Commit(); err != nil {
		return err
	}
	if n := stmt.RowsAffected(); n > 0 {
		fmt.Fprintf(os.Stdout, "%d row(s) affected\n", n)
	}
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("fsqlite"),
		kong.Description("An embeddable, SQLite-file-format-compatible storage engine"),
		kong.UsageOnError(),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
