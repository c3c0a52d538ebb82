package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/achievement"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT GRANT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// GrantRepository implements achievement.GrantStore for PostgreSQL.
type GrantRepository struct {
	conn *Connection
}

// NewGrantRepository creates a new GrantRepository.
func NewGrantRepository(conn *Connection) *GrantRepository {
	return &GrantRepository{conn: conn}
}

// Has reports whether the user already holds the achievement.
func (r *GrantRepository) Has(ctx context.Context, userID, code string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM achievement_grants
			WHERE user_id = $1 AND achievement_code = $2
		)
	`

	var exists bool
	if err := r.conn.QueryRow(ctx, query, userID, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check achievement grant: %w", err)
	}

	return exists, nil
}

// Create inserts a grant. A conflicting (user_id, achievement_code) row is not an
// error: the first writer wins and false is returned.
func (r *GrantRepository) Create(ctx context.Context, g achievement.Grant) (bool, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.EarnedAt.IsZero() {
		g.EarnedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO achievement_grants (id, user_id, achievement_code, earned_at, observed_value)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, achievement_code) DO NOTHING
	`

	tag, err := r.conn.Exec(ctx, query, g.ID, g.UserID, g.Code, g.EarnedAt, g.ObservedValue)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create achievement grant: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListByUser returns every grant of the user, earliest first.
func (r *GrantRepository) ListByUser(ctx context.Context, userID string) ([]achievement.Grant, error) {
	query := `
		SELECT id, user_id, achievement_code, earned_at, observed_value
		FROM achievement_grants
		WHERE user_id = $1
		ORDER BY earned_at ASC, achievement_code ASC
	`

	rows, err := r.conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query achievement grants: %w", err)
	}
	defer rows.Close()

	var grants []achievement.Grant
	for rows.Next() {
		var g achievement.Grant
		if err := rows.Scan(&g.ID, &g.UserID, &g.Code, &g.EarnedAt, &g.ObservedValue); err != nil {
			return nil, fmt.Errorf("failed to scan achievement grant: %w", err)
		}
		grants = append(grants, g)
	}

	return grants, rows.Err()
}
