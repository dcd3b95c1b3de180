// Command seed inserts a demo draft so the pipeline can be exercised locally
// without the editing service running.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"artwork-pipeline/internal/config"
	"artwork-pipeline/internal/models"
	"artwork-pipeline/internal/store"
)

func main() {
	owner := flag.String("owner", "demo-user", "owner id for the draft")
	title := flag.String("title", "Dream Harbor", "artwork title")
	output := flag.String("output", models.OutputSquare, "output class: square, portrait, landscape")
	tags := flag.String("tags", "surreal,harbor", "comma-separated tags")
	flag.Parse()

	cfg := config.Load()
	ctx := context.Background()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	a := models.Artwork{
		ID:      uuid.NewString(),
		OwnerID: *owner,
		Title:   *title,
		Output:  *output,
		Tags:    splitTags(*tags),
	}
	if err := st.CreateDraft(ctx, a); err != nil {
		log.Fatalf("create draft: %v", err)
	}
	fmt.Printf("created draft %s for owner %s\n", a.ID, a.OwnerID)
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
