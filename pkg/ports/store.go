package ports

import (
	"context"

	"github.com/aretw0/hs2pool/pkg/domain"
)

// SessionStore defines the interface for persisting session records.
// Every lookup is scoped to a pool key; records are keyed by Session.ID().
type SessionStore interface {
	// CountActive returns the number of open sessions recorded for the key.
	CountActive(ctx context.Context, key domain.PoolKey) (int, error)

	// MostRecent returns the most recently created open session for the key.
	// Returns domain.ErrSessionNotFound if the key has none.
	MostRecent(ctx context.Context, key domain.PoolKey) (*domain.Session, error)

	// LeastRecentlyUsedFree considers the first limit open sessions of the key
	// (oldest first, limit <= 0 means all) and returns the one that is not in use
	// and was used least recently.
	// Returns domain.ErrSessionNotFound if every candidate is in use.
	LeastRecentlyUsedFree(ctx context.Context, key domain.PoolKey, limit int) (*domain.Session, error)

	// Get retrieves one session record.
	// Returns domain.ErrSessionNotFound if it does not exist.
	Get(ctx context.Context, key domain.PoolKey, id string) (*domain.Session, error)

	// List returns every record of the key, oldest first.
	List(ctx context.Context, key domain.PoolKey) ([]*domain.Session, error)

	// Insert persists a new session record.
	Insert(ctx context.Context, s *domain.Session) error

	// Update replaces an existing record.
	// Returns domain.ErrSessionNotFound if the record was removed meanwhile.
	Update(ctx context.Context, s *domain.Session) error

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, s *domain.Session) error
}
