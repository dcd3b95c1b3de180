package artifact

import (
	"context"
	"fmt"
	"strings"
)

// Stored describes a persisted object.
type Stored struct {
	Key   string
	URL   string
	Bytes int64
}

// Store is the object-storage contract used by the worker. Put overwrites any
// existing object at the key; Delete reports its outcome explicitly so callers
// can log failures instead of the storage layer swallowing them.
type Store interface {
	Put(ctx context.Context, key string, body []byte, mime string) (Stored, error)
	Delete(ctx context.Context, key string) error
}

// BuildKey derives the deterministic storage key for an artwork variant.
// Retried attempts for the same job land on the same key and overwrite.
func BuildKey(ownerID, artworkID, variant, mime string) string {
	return fmt.Sprintf("users/%s/artworks/%s/%s.%s", ownerID, artworkID, variant, ExtForMime(mime))
}

// ExtForMime maps a MIME type to a file extension.
func ExtForMime(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "bin"
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
