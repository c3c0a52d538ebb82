package postgres

import (
	"context"
	"fmt"
)

// IdentityRepository implements progression.IdentityResolver against the
// user_identities mirror kept in sync with the identity provider.
type IdentityRepository struct {
	conn *Connection
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(conn *Connection) *IdentityRepository {
	return &IdentityRepository{conn: conn}
}

// EnsureUserExists reports whether a live identity exists for the user.
func (r *IdentityRepository) EnsureUserExists(ctx context.Context, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM user_identities
			WHERE user_id = $1 AND deleted_at IS NULL
		)
	`

	var exists bool
	if err := r.conn.QueryRow(ctx, query, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to resolve identity: %w", err)
	}

	return exists, nil
}

// Register records an identity. Registering an existing identity revives it.
func (r *IdentityRepository) Register(ctx context.Context, userID string) error {
	query := `
		INSERT INTO user_identities (user_id)
		VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET deleted_at = NULL
	`

	if _, err := r.conn.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to register identity: %w", err)
	}
	return nil
}
