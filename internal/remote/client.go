// Package remote talks to the script hosting service. The service is
// authoritative for script content and binding configuration; this package
// only translates its HTTP surface into domain types and the shared error
// taxonomy.
package remote

import (
	"context"

	"github.com/starford/perthro/internal/models"
)

// Client is the outbound interface to the script hosting service.
type Client interface {
	// FetchContent returns the current script text.
	FetchContent(ctx context.Context, id models.Identity) (string, error)
	// FetchConfiguration returns the script's binding/metadata entries.
	// Secret-typed entries come back without values.
	FetchConfiguration(ctx context.Context, id models.Identity) ([]models.ConfigEntry, error)
	// Push replaces content and configuration as one atomic update.
	Push(ctx context.Context, id models.Identity, content string, cfg []models.ConfigEntry) error
}
