package progression

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// fakeProgressStore is a map-backed ProgressStore. Reads and writes are separate
// critical sections so an unserialized caller would lose updates.
type fakeProgressStore struct {
	mu      sync.Mutex
	rows    map[string]UserProgress
	changes []XPChange
	getErr  error
	putErr  error
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{rows: make(map[string]UserProgress)}
}

func (s *fakeProgressStore) Get(_ context.Context, userID string) (*UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	p, ok := s.rows[userID]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	return &p, nil
}

func (s *fakeProgressStore) Upsert(_ context.Context, p UserProgress, change XPChange) error {
	// Yield between read and write to widen any race window.
	time.Sleep(time.Microsecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	s.rows[p.UserID] = p
	s.changes = append(s.changes, change)
	return nil
}

type fakeIdentity struct {
	known map[string]bool
	err   error
	calls int
}

func (f *fakeIdentity) EnsureUserExists(_ context.Context, userID string) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.known[userID], nil
}

func newTestLedger(t *testing.T, table *Table) (*Ledger, *fakeProgressStore, *fakeIdentity) {
	t.Helper()
	store := newFakeProgressStore()
	identity := &fakeIdentity{known: map[string]bool{"u-1": true}}
	return NewLedger(table, store, identity, NewKeyedLocker()), store, identity
}

func TestLedger_Award_SmallTableScenario(t *testing.T) {
	ledger, store, _ := newTestLedger(t, smallTable(t))
	ctx := context.Background()

	res, err := ledger.Award(ctx, "u-1", 10, ReasonActivityCompleted)
	require.NoError(t, err)
	assert.Equal(t, 10, res.XP)
	assert.Equal(t, 2, res.Level)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 2, res.NewLevel)
	assert.True(t, res.Created)

	res, err = ledger.Award(ctx, "u-1", 14, ReasonActivityCompleted)
	require.NoError(t, err)
	assert.Equal(t, 24, res.XP)
	assert.Equal(t, 2, res.Level)
	assert.False(t, res.LeveledUp)
	assert.Zero(t, res.NewLevel)
	assert.False(t, res.Created)

	res, err = ledger.Award(ctx, "u-1", 1, ReasonActivityCompleted)
	require.NoError(t, err)
	assert.Equal(t, 25, res.XP)
	assert.Equal(t, 3, res.Level)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 3, res.NewLevel)

	assert.Len(t, store.changes, 3)
	assert.Equal(t, 24, store.changes[2].OldXP)
}

func TestLedger_Award_RejectsNonPositiveAmount(t *testing.T) {
	ledger, store, _ := newTestLedger(t, DefaultTable())

	for _, amount := range []int{0, -5} {
		_, err := ledger.Award(context.Background(), "u-1", amount, ReasonActivityCompleted)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrNonPositiveAmount)
		assert.True(t, shared.IsValidation(err))
	}
	assert.Empty(t, store.rows)
}

func TestLedger_Award_RejectsEmptyUser(t *testing.T) {
	ledger, _, _ := newTestLedger(t, DefaultTable())

	_, err := ledger.Award(context.Background(), "", 10, ReasonActivityCompleted)
	assert.ErrorIs(t, err, shared.ErrEmptyUserID)
}

func TestLedger_Award_LevelUpAtThreshold(t *testing.T) {
	table := DefaultTable()
	threshold, ok := table.ThresholdFor(5)
	require.True(t, ok)

	ledger, store, _ := newTestLedger(t, table)
	store.rows["u-1"] = UserProgress{UserID: "u-1", XP: threshold - 1, Level: table.LevelFor(threshold - 1)}

	res, err := ledger.Award(context.Background(), "u-1", 1, ReasonActivityCompleted)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 5, res.NewLevel)

	// Stopping short of the threshold is not a level-up.
	store.rows["u-1"] = UserProgress{UserID: "u-1", XP: threshold - 2, Level: table.LevelFor(threshold - 2)}
	res, err = ledger.Award(context.Background(), "u-1", 1, ReasonActivityCompleted)
	require.NoError(t, err)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 4, res.Level)
}

func TestLedger_Award_LevelMatchesTableAfterEveryCall(t *testing.T) {
	table := DefaultTable()
	ledger, store, _ := newTestLedger(t, table)

	prevXP := 0
	for i, amount := range []int{1, 9, 15, 60, 3, 250, 1000, 7, 12000} {
		res, err := ledger.Award(context.Background(), "u-1", amount, ReasonActivityCompleted)
		require.NoError(t, err, "award %d", i)

		row := store.rows["u-1"]
		assert.Equal(t, table.LevelFor(row.XP), row.Level)
		assert.Equal(t, res.XP, row.XP)
		assert.Greater(t, row.XP, prevXP, "xp never decreases")
		prevXP = row.XP
	}
	assert.Equal(t, table.MaxLevel(), store.rows["u-1"].Level)
}

func TestLedger_Award_AbsentRowRecovery(t *testing.T) {
	ledger, store, identity := newTestLedger(t, DefaultTable())

	_, err := ledger.Award(context.Background(), "ghost", 10, ReasonActivityCompleted)
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
	assert.ErrorIs(t, err, shared.ErrUserNotFound)
	assert.Equal(t, 1, identity.calls)
	assert.NotContains(t, store.rows, "ghost")

	identity.err = errors.New("idp down")
	_, err = ledger.Award(context.Background(), "u-1", 10, ReasonActivityCompleted)
	assert.True(t, shared.IsStoreUnavailable(err))
}

func TestLedger_Award_StoreFailuresAreStoreUnavailable(t *testing.T) {
	ledger, store, _ := newTestLedger(t, DefaultTable())
	boom := errors.New("connection reset")

	store.getErr = boom
	_, err := ledger.Award(context.Background(), "u-1", 10, ReasonActivityCompleted)
	assert.True(t, shared.IsStoreUnavailable(err))
	assert.True(t, shared.IsRetryable(err))
	assert.ErrorIs(t, err, boom)

	store.getErr = nil
	store.putErr = boom
	_, err = ledger.Award(context.Background(), "u-1", 10, ReasonActivityCompleted)
	assert.True(t, shared.IsStoreUnavailable(err))
}

func TestLedger_Award_ConflictPassesThroughAsRetryable(t *testing.T) {
	ledger, store, _ := newTestLedger(t, DefaultTable())
	store.putErr = shared.NewDomainError("progression", "Upsert", shared.ErrConcurrentModification, "stale xp")

	_, err := ledger.Award(context.Background(), "u-1", 10, ReasonActivityCompleted)
	assert.ErrorIs(t, err, shared.ErrConcurrentModification)
	assert.False(t, shared.IsStoreUnavailable(err))
	assert.True(t, shared.IsRetryable(err))
}

func TestLedger_Award_ConcurrentAwardsAreSerialized(t *testing.T) {
	table := DefaultTable()
	ledger, store, _ := newTestLedger(t, table)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := ledger.Award(context.Background(), "u-1", 3, ReasonActivityCompleted)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	row := store.rows["u-1"]
	assert.Equal(t, workers*3, row.XP)
	assert.Equal(t, table.LevelFor(workers*3), row.Level)
	assert.Len(t, store.changes, workers)
}

func TestLedger_Get_DoesNotWrite(t *testing.T) {
	ledger, store, _ := newTestLedger(t, DefaultTable())

	p, err := ledger.Get(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 0, p.XP)
	assert.Equal(t, 1, p.Level)
	assert.Empty(t, store.rows)
}
