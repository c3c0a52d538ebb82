package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/pkg/timeutil"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ActivityRepository implements progression.HistoryStore using PostgreSQL.
// Rows are owned by the session service; Record exists for tooling and tests.
type ActivityRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(conn *Connection) *ActivityRepository {
	return &ActivityRepository{
		conn: conn,
		now:  time.Now,
	}
}

// Record inserts a completed activity. An empty ID is replaced with a new UUID.
func (r *ActivityRepository) Record(ctx context.Context, rec progression.ActivityRecord) (progression.ActivityRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = r.now().UTC()
	}

	query := `
		INSERT INTO activity_records (id, user_id, completed_at, rpe, duration_seconds)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.conn.Exec(ctx, query, rec.ID, rec.UserID, rec.CompletedAt, rec.RPE, rec.DurationSeconds)
	if err != nil {
		if IsCheckViolation(err) {
			return progression.ActivityRecord{}, fmt.Errorf("activity record rejected: %w", err)
		}
		return progression.ActivityRecord{}, fmt.Errorf("failed to insert activity record: %w", err)
	}

	return rec, nil
}

// RecentCompletions returns activities completed within the last lookbackDays days,
// newest first. One extra day is read so callers can align the window to local days.
func (r *ActivityRepository) RecentCompletions(ctx context.Context, userID string, lookbackDays int) ([]progression.ActivityRecord, error) {
	since := timeutil.TrailingWindow(r.now(), lookbackDays+1)

	query := `
		SELECT id, user_id, completed_at, rpe, duration_seconds
		FROM activity_records
		WHERE user_id = $1 AND completed_at >= $2
		ORDER BY completed_at DESC
	`

	rows, err := r.conn.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity records: %w", err)
	}
	defer rows.Close()

	var records []progression.ActivityRecord
	for rows.Next() {
		var rec progression.ActivityRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.CompletedAt, &rec.RPE, &rec.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountCompletions returns the all-time number of completed activities.
func (r *ActivityRepository) CountCompletions(ctx context.Context, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM activity_records WHERE user_id = $1`

	var count int
	if err := r.conn.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activity records: %w", err)
	}

	return count, nil
}
