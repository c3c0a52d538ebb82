package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/fitness-progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// XP LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger применяет начисления XP к прогрессу пользователя.
// Это единственная точка изменения UserProgress.
type Ledger struct {
	table    *Table
	store    ProgressStore
	identity IdentityResolver
	locker   Locker
	now      func() time.Time
}

// NewLedger создаёт журнал XP. Если locker == nil, используется KeyedLocker процесса.
func NewLedger(table *Table, store ProgressStore, identity IdentityResolver, locker Locker) *Ledger {
	if locker == nil {
		locker = NewKeyedLocker()
	}
	return &Ledger{
		table:    table,
		store:    store,
		identity: identity,
		locker:   locker,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени (для тестов).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Table возвращает таблицу уровней журнала.
func (l *Ledger) Table() *Table {
	return l.table
}

// Award начисляет amount XP пользователю.
//
// Чтение-изменение-запись выполняется под блокировкой пользователя, поэтому
// параллельные начисления не теряются. Новое (xp, level) сохраняется одним Upsert.
func (l *Ledger) Award(ctx context.Context, userID string, amount int, reason string) (AwardResult, error) {
	if userID == "" {
		return AwardResult{}, shared.ErrEmptyUserID
	}
	if amount <= 0 {
		return AwardResult{}, shared.WrapError("progression", "Award", shared.ErrInvalidInput,
			fmt.Sprintf("amount %d is not positive", amount), shared.ErrNonPositiveAmount)
	}

	unlock, err := l.locker.Lock(ctx, userID)
	if err != nil {
		return AwardResult{}, shared.StoreError("progression", "Award", err)
	}
	defer unlock()

	current, created, err := l.load(ctx, userID)
	if err != nil {
		return AwardResult{}, err
	}

	now := l.now().UTC()
	newXP := current.XP + amount
	newLevel := l.table.LevelFor(newXP)

	next := UserProgress{
		UserID:    userID,
		XP:        newXP,
		Level:     newLevel,
		UpdatedAt: now,
	}
	change := XPChange{
		Delta:  amount,
		OldXP:  current.XP,
		Reason: reason,
		At:     now,
	}
	if err := l.store.Upsert(ctx, next, change); err != nil {
		return AwardResult{}, shared.StoreError("progression", "Award", err)
	}

	result := AwardResult{
		UserID:        userID,
		Amount:        amount,
		Reason:        reason,
		PreviousXP:    current.XP,
		XP:            newXP,
		PreviousLevel: current.Level,
		Level:         newLevel,
		LeveledUp:     newLevel > current.Level,
		Created:       created,
	}
	if result.LeveledUp {
		result.NewLevel = newLevel
	}
	return result, nil
}

// Get возвращает прогресс пользователя без изменений.
// Отсутствующая строка проходит ту же ветку восстановления, что и Award,
// но ничего не записывает.
func (l *Ledger) Get(ctx context.Context, userID string) (*UserProgress, error) {
	if userID == "" {
		return nil, shared.ErrEmptyUserID
	}
	p, _, err := l.load(ctx, userID)
	return p, err
}

// load читает прогресс. Если строки нет, спрашивает IdentityResolver:
// пользователь реален - начинаем с xp=0, level=1; нет - NotFound.
func (l *Ledger) load(ctx context.Context, userID string) (*UserProgress, bool, error) {
	p, err := l.store.Get(ctx, userID)
	if err == nil && p != nil {
		return p, false, nil
	}
	if err != nil && !shared.IsNotFound(err) {
		return nil, false, shared.StoreError("progression", "Get", err)
	}

	if l.identity == nil {
		return nil, false, shared.ErrUserNotFound
	}
	exists, err := l.identity.EnsureUserExists(ctx, userID)
	if err != nil {
		return nil, false, shared.StoreError("progression", "EnsureUserExists", err)
	}
	if !exists {
		return nil, false, shared.WrapError("progression", "Get", shared.ErrNotFound,
			fmt.Sprintf("user %s is unknown", userID), shared.ErrUserNotFound)
	}
	return NewUserProgress(userID), true, nil
}
