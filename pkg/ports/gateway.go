package ports

import (
	"context"

	"github.com/aretw0/hs2pool/pkg/domain"
)

// Gateway opens and closes sessions against the remote service.
type Gateway interface {
	// Open creates a new remote session for the key. The returned session is
	// open, carries its GUID/Secret and has not been persisted yet.
	Open(ctx context.Context, key domain.PoolKey, creds domain.Credentials) (*domain.Session, error)

	// Close terminates the remote session.
	Close(ctx context.Context, s *domain.Session) error

	// ResolveCoordinator reports the backend host serving the session.
	ResolveCoordinator(ctx context.Context, s *domain.Session) (string, error)
}
