package main

import (
	"context"
	"log"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aoki/jgrants-sync/internal/store"
)

// Prints row counts for every table plus term counts per taxonomy, to
// sanity check migrations and seeds after a deploy.
func main() {
	ctx := context.Background()
	pool, err := store.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Table / Taxonomy", "Rows"})

	for _, name := range []string{"content_records", "taxonomy_terms", "term_assignments", "sync_runs"} {
		var count int
		if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+name).Scan(&count); err != nil {
			log.Fatalf("count %s: %v", name, err)
		}
		t.AppendRow(table.Row{name, count})
	}
	t.AppendSeparator()

	rows, err := pool.Query(ctx, "SELECT taxonomy, COUNT(*) FROM taxonomy_terms GROUP BY taxonomy ORDER BY taxonomy")
	if err != nil {
		log.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var taxonomy string
		var count int
		if err := rows.Scan(&taxonomy, &count); err != nil {
			log.Fatal(err)
		}
		t.AppendRow(table.Row{"  " + taxonomy, count})
	}
	t.Render()
}
