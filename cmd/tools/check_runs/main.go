package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aoki/jgrants-sync/internal/store"
)

func main() {
	ctx := context.Background()
	pool, err := store.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	runs, err := store.NewStore(pool).RecentRuns(ctx, 10)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Run", "Status", "Fetched", "Created", "Updated", "Errors", "AI", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t.AppendRow(table.Row{
			r.RunID.String()[:8], r.Status,
			r.Stats.Fetched, r.Stats.Created, r.Stats.Updated, r.Stats.Errors, r.Stats.AIGenerated,
			duration, r.StartedAt.Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}
