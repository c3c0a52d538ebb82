package progression

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	locker := NewKeyedLocker()

	unlock, err := locker.Lock(context.Background(), "u-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "u-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)
	assert.True(t, shared.IsRetryable(err))

	unlock()
	unlock() // second call is a no-op

	unlock2, err := locker.Lock(context.Background(), "u-1")
	require.NoError(t, err)
	unlock2()
	assert.Zero(t, locker.Len())
}

func TestKeyedLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewKeyedLocker()

	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()

	assert.Equal(t, 1, locker.Len())
}
