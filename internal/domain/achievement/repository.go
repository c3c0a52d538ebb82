package achievement

import (
	"context"

	"github.com/alem-hub/fitness-progression/internal/domain/progression"
)

// GrantStore - хранилище выдач достижений.
// Уникальность (user_id, code) обеспечивается на уровне хранилища.
type GrantStore interface {
	// Has проверяет, получено ли достижение.
	Has(ctx context.Context, userID, code string) (bool, error)

	// Create создаёт выдачу. Возвращает false без ошибки, если выдача уже существует
	// (конфликт уникальности: первый писатель выигрывает).
	Create(ctx context.Context, grant Grant) (bool, error)

	// ListByUser возвращает все выдачи пользователя, от ранних к поздним.
	ListByUser(ctx context.Context, userID string) ([]Grant, error)
}

// ProgressReader - чтение прогресса для условий по уровню.
type ProgressReader interface {
	Get(ctx context.Context, userID string) (*progression.UserProgress, error)
}

// Ranker - внешний сервис рейтинга между пользователями.
type Ranker interface {
	// TopPercent возвращает, в каком верхнем проценте находится пользователь
	// (например 3.5 - "в верхних 3.5%"). ok=false - рейтинг недоступен.
	TopPercent(ctx context.Context, userID string) (percent float64, ok bool, err error)
}

// NoRanker - Ranker по умолчанию: рейтинг всегда недоступен.
type NoRanker struct{}

// TopPercent implements Ranker.
func (NoRanker) TopPercent(context.Context, string) (float64, bool, error) {
	return 0, false, nil
}
