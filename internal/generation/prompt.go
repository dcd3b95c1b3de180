package generation

import (
	"fmt"
	"strings"

	"artwork-pipeline/internal/models"
)

const styleSuffix = "Style: surreal, oil-paint texture, symbolic, high detail, museum lighting."

// BuildPrompt assembles the generation prompt from a record's descriptive
// fields. The output is deterministic for a given record so redelivered jobs
// send the same prompt.
func BuildPrompt(a models.Artwork) string {
	title := a.Title
	if title == "" {
		title = "(untitled)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "Year: %s\n", a.Year)
	fmt.Fprintf(&b, "Collection: %s\n", a.Collection)
	fmt.Fprintf(&b, "Description: %s\n", a.Description)
	fmt.Fprintf(&b, "Tags: %s\n", strings.Join(a.Tags, ", "))
	fmt.Fprintf(&b, "Notes (internal): %s\n\n", a.Notes)
	b.WriteString(styleSuffix)
	return b.String()
}
