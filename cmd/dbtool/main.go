package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func main() {
	if len(os.Args) < 2 {
		fatalf("usage: dbtool <rules-smoke> [args]")
	}

	switch os.Args[1] {
	case "rules-smoke":
		rulesSmoke(os.Args[2:])
	default:
		fatalf("unknown subcommand: %s", os.Args[1])
	}
}

// rulesSmoke checks the rules schema invariants against a live database:
// the per-tenant unique key constraint rejects collisions immediately, and
// the deferred form lets a renumbering swap keys inside one transaction.
func rulesSmoke(args []string) {
	fs := flag.NewFlagSet("rules-smoke", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var url string
	fs.StringVar(&url, "url", "", "postgres connection string")
	if err := fs.Parse(args); err != nil {
		fatal(err)
	}
	if url == "" {
		fatalf("missing --url")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		fatal(err)
	}
	defer conn.Close(context.Background())

	tx, err := conn.Begin(ctx)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tenant := "smoke-tenant"
	insert := func(id string, key float64) error {
		_, err := tx.Exec(ctx, `
INSERT INTO rules.rules (id, tenant_id, name, rule_index, source, destination, action)
VALUES ($1::uuid, $2, $3, $4, '[]'::jsonb, '[]'::jsonb, 'Allow');`, id, tenant, "smoke "+id, key)
		return err
	}

	idCleanup := "00000000-0000-0000-0000-00000000000a"
	idB := "00000000-0000-0000-0000-00000000000b"
	idC := "00000000-0000-0000-0000-00000000000c"
	if err := insert(idCleanup, 0); err != nil {
		fatal(err)
	}
	if err := insert(idB, 100); err != nil {
		fatal(err)
	}
	if err := insert(idC, 200); err != nil {
		fatal(err)
	}

	if _, err := tx.Exec(ctx, `SAVEPOINT sp_dup;`); err != nil {
		fatal(err)
	}
	err = insert("00000000-0000-0000-0000-00000000000d", 100)
	if _, rbErr := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT sp_dup;`); rbErr != nil {
		fatal(rbErr)
	}
	if !isUniqueViolation(err) {
		fatalf("expected unique violation on duplicate rule_index, got %v", err)
	}

	if _, err := tx.Exec(ctx, `SET CONSTRAINTS rules_tenant_rule_index_key DEFERRED;`); err != nil {
		fatal(err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE rules.rules r SET rule_index = a.key
FROM unnest($2::uuid[], $3::float8[]) AS a(id, key)
WHERE r.tenant_id = $1 AND r.id = a.id;`,
		tenant, []string{idB, idC}, []float64{200, 100}); err != nil {
		fatalf("deferred key swap failed: %v", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `
SELECT count(DISTINCT rule_index) FROM rules.rules WHERE tenant_id = $1;`, tenant).Scan(&count); err != nil {
		fatal(err)
	}
	if count != 3 {
		fatalf("expected 3 distinct keys after swap, got %d", count)
	}

	// Leave no trace: the whole smoke run rolls back.
	if err := tx.Rollback(ctx); err != nil {
		fatal(err)
	}

	fmt.Println("rules-smoke: ok")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

func fatal(err error) {
	if err == nil {
		os.Exit(1)
	}
	fatalf("%v", err)
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
