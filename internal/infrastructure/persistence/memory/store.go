// Package memory implements the progression stores in process memory.
// Used by tests and by the CLI when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/domain/shared"
	"github.com/alem-hub/fitness-progression/pkg/timeutil"
)

// Store implements progression.ProgressStore, progression.HistoryStore,
// progression.IdentityResolver and achievement.GrantStore.
type Store struct {
	mu         sync.RWMutex
	progress   map[string]progression.UserProgress
	changes    map[string][]progression.XPChange
	activities map[string][]progression.ActivityRecord
	grants     map[string]map[string]achievement.Grant
	identities map[string]bool
	openIDs    bool
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithOpenIdentities makes EnsureUserExists accept every non-empty user id.
func WithOpenIdentities() Option {
	return func(s *Store) { s.openIDs = true }
}

// WithClock replaces the clock used for lookback windows and default timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		progress:   make(map[string]progression.UserProgress),
		changes:    make(map[string][]progression.XPChange),
		activities: make(map[string][]progression.ActivityRecord),
		grants:     make(map[string]map[string]achievement.Grant),
		identities: make(map[string]bool),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

// Get implements progression.ProgressStore.
func (s *Store) Get(_ context.Context, userID string) (*progression.UserProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return &p, nil
}

// Upsert implements progression.ProgressStore.
// Like the PostgreSQL store it rejects a write whose OldXP is stale.
func (s *Store) Upsert(_ context.Context, p progression.UserProgress, change progression.XPChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.progress[p.UserID]; current.XP != change.OldXP {
		return shared.NewDomainError("progression", "Upsert", shared.ErrConcurrentModification,
			fmt.Sprintf("xp changed since it was read as %d", change.OldXP))
	}
	s.progress[p.UserID] = p
	s.changes[p.UserID] = append(s.changes[p.UserID], change)
	return nil
}

// History returns the XP changes of a user, newest first.
func (s *Store) History(_ context.Context, userID string, limit int) ([]progression.XPChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.changes[userID]
	out := make([]progression.XPChange, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Activities
// ─────────────────────────────────────────────────────────────────────────────

// Record stores a completed activity.
func (s *Store) Record(_ context.Context, rec progression.ActivityRecord) (progression.ActivityRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities[rec.UserID] = append(s.activities[rec.UserID], rec)
	return rec, nil
}

// RecentCompletions implements progression.HistoryStore.
func (s *Store) RecentCompletions(_ context.Context, userID string, lookbackDays int) ([]progression.ActivityRecord, error) {
	since := timeutil.TrailingWindow(s.now(), lookbackDays+1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []progression.ActivityRecord
	for _, rec := range s.activities[userID] {
		if !rec.CompletedAt.Before(since) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out, nil
}

// CountCompletions implements progression.HistoryStore.
func (s *Store) CountCompletions(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.activities[userID]), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Identities
// ─────────────────────────────────────────────────────────────────────────────

// Register marks a user as known to the identity provider.
func (s *Store) Register(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.identities[userID] = true
	return nil
}

// EnsureUserExists implements progression.IdentityResolver.
func (s *Store) EnsureUserExists(_ context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.openIDs || s.identities[userID], nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Achievement grants
// ─────────────────────────────────────────────────────────────────────────────

// Has implements achievement.GrantStore.
func (s *Store) Has(_ context.Context, userID, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.grants[userID][code]
	return ok, nil
}

// Create implements achievement.GrantStore. The first writer for a code wins.
func (s *Store) Create(_ context.Context, g achievement.Grant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byCode, ok := s.grants[g.UserID]
	if !ok {
		byCode = make(map[string]achievement.Grant)
		s.grants[g.UserID] = byCode
	}
	if _, exists := byCode[g.Code]; exists {
		return false, nil
	}

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.EarnedAt.IsZero() {
		g.EarnedAt = s.now().UTC()
	}
	byCode[g.Code] = g
	return true, nil
}

// ListByUser implements achievement.GrantStore.
func (s *Store) ListByUser(_ context.Context, userID string) ([]achievement.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]achievement.Grant, 0, len(s.grants[userID]))
	for _, g := range s.grants[userID] {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.Before(out[j].EarnedAt)
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}
