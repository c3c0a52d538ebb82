package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progression.ProgressStore for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Operations
// ─────────────────────────────────────────────────────────────────────────────

// Get returns the progress row of a user.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progression.UserProgress, error) {
	query := `
		SELECT user_id, xp, level, updated_at
		FROM user_progress
		WHERE user_id = $1
	`

	var p progression.UserProgress
	err := r.conn.QueryRow(ctx, query, userID).Scan(&p.UserID, &p.XP, &p.Level, &p.UpdatedAt)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user progress: %w", err)
	}

	return &p, nil
}

// History returns the latest XP changes of a user, newest first.
func (r *ProgressRepository) History(ctx context.Context, userID string, limit int) ([]progression.XPChange, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT delta, old_xp, reason, created_at
		FROM xp_history
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query xp history: %w", err)
	}
	defer rows.Close()

	var changes []progression.XPChange
	for rows.Next() {
		var c progression.XPChange
		if err := rows.Scan(&c.Delta, &c.OldXP, &c.Reason, &c.At); err != nil {
			return nil, fmt.Errorf("failed to scan xp history row: %w", err)
		}
		changes = append(changes, c)
	}

	return changes, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Write Operations
// ─────────────────────────────────────────────────────────────────────────────

// Upsert writes the new (xp, level) pair and the history entry in one transaction.
//
// The write only applies while the stored xp still equals change.OldXP, and a
// missing row may only be created from zero. A stale writer gets
// ErrConcurrentModification, so lost updates are impossible even when the
// user lock is per-process or has expired.
func (r *ProgressRepository) Upsert(ctx context.Context, p progression.UserProgress, change progression.XPChange) error {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	at := change.At
	if at.IsZero() {
		at = updatedAt
	}

	return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		upsert := `
			INSERT INTO user_progress (user_id, xp, level, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				xp = EXCLUDED.xp,
				level = EXCLUDED.level,
				updated_at = EXCLUDED.updated_at
			WHERE user_progress.xp = $5
		`
		if change.OldXP != 0 {
			upsert = `
				UPDATE user_progress
				SET xp = $2, level = $3, updated_at = $4
				WHERE user_id = $1 AND xp = $5
			`
		}

		tag, err := tx.Exec(ctx, upsert, p.UserID, p.XP, p.Level, updatedAt, change.OldXP)
		if err != nil {
			if IsCheckViolation(err) {
				return shared.WrapError("progression", "Upsert", shared.ErrInvalidState,
					"progress row rejected", err)
			}
			return fmt.Errorf("failed to upsert user progress: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return shared.NewDomainError("progression", "Upsert", shared.ErrConcurrentModification,
				fmt.Sprintf("xp changed since it was read as %d", change.OldXP))
		}

		history := `
			INSERT INTO xp_history (user_id, delta, old_xp, new_xp, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		if _, err := tx.Exec(ctx, history,
			p.UserID, change.Delta, change.OldXP, change.OldXP+change.Delta, change.Reason, at,
		); err != nil {
			return fmt.Errorf("failed to insert xp history: %w", err)
		}

		return nil
	})
}
