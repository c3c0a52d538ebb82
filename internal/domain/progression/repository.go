package progression

import (
	"context"
)

// ProgressStore - хранилище прогресса пользователей.
// Реализуется в infrastructure слое (PostgreSQL, in-memory).
type ProgressStore interface {
	// Get возвращает прогресс пользователя.
	// Возвращает ошибку вида shared.ErrNotFound, если строки нет.
	Get(ctx context.Context, userID string) (*UserProgress, error)

	// Upsert сохраняет (xp, level) атомарно вместе с записью в истории XP.
	Upsert(ctx context.Context, progress UserProgress, change XPChange) error
}

// HistoryStore - доступ на чтение к истории завершённых тренировок.
type HistoryStore interface {
	// RecentCompletions возвращает тренировки за последние lookbackDays дней,
	// отсортированные от новых к старым.
	RecentCompletions(ctx context.Context, userID string, lookbackDays int) ([]ActivityRecord, error)

	// CountCompletions возвращает общее количество завершённых тренировок.
	CountCompletions(ctx context.Context, userID string) (int, error)
}

// IdentityResolver подтверждает существование пользователя у внешнего провайдера.
// Вызывается только когда строки прогресса нет (задержка распространения идентичности).
type IdentityResolver interface {
	// EnsureUserExists возвращает true, если пользователь реален.
	EnsureUserExists(ctx context.Context, userID string) (bool, error)
}

// Locker сериализует изменения XP одного пользователя.
type Locker interface {
	// Lock блокирует пользователя и возвращает функцию освобождения.
	Lock(ctx context.Context, userID string) (unlock func(), error)
}
