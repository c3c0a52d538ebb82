// Package progression содержит доменную модель прогрессии пользователя фитнес-приложения.
//
// Пакет превращает историю завершённых тренировок в опыт (XP), производный уровень
// и серию (streak) последовательных дней активности. Он определяет:
//
//   - Таблицу уровней (Table): неизменяемое отображение уровень → порог XP и имя уровня
//   - Калькулятор серий (StreakCalculator): текущая серия дней по истории активности
//   - Политику наград (RewardPolicy): базовая награда, бонусы за первую тренировку,
//     за усилие (RPE) и за пересечение порогов серии
//   - Журнал XP (Ledger): единственная точка изменения UserProgress
//   - Интерфейсы хранилищ: ProgressStore, HistoryStore, IdentityResolver, Locker
//
// # Инварианты
//
//  1. UserProgress.Level == Table.LevelFor(UserProgress.XP) после каждого изменения
//  2. XP никогда не уменьшается: награда всегда положительна, откатов и затухания нет
//  3. Изменения XP одного пользователя сериализуются через Locker
//
// # Пример
//
//	table := progression.DefaultTable()
//	ledger := progression.NewLedger(table, store, identity, progression.NewKeyedLocker())
//	res, err := ledger.Award(ctx, userID, 60, progression.ReasonActivityCompleted)
//	if res.LeveledUp {
//	    fmt.Println("new level:", res.NewLevel, table.NameFor(res.NewLevel))
//	}
//
// Пакет не зависит от инфраструктуры: только стандартная библиотека и shared.
package progression
