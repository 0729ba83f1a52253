// Package orchestration — движок переходов состояний.
//
// Engine — единственная точка, через которую меняется состояние run.
// Каждый предложенный переход проходит через упорядоченный конвейер
// правил (core policy): правило может пропустить переход, переписать
// предложенное состояние, отклонить его или попросить вызывающего
// подождать (WAIT + рекомендуемая задержка).
//
// Принятый переход фиксируется одной транзакцией: новая запись в
// append-only истории состояний + CAS-обновление указателя текущего
// состояния run. Конфликт версий означает конкурирующий переход —
// вызывающий перечитывает run и повторяет.
package orchestration
