// Package domain содержит основные сущности Cadence.
//
// Здесь определены:
//   - Run — экземпляр выполнения flow или task
//   - State / StateType — иммутабельный снимок жизненного цикла run
//   - ConcurrencyLimit — лимит конкурентности v1 (слоты по тегам, с владельцами)
//   - ConcurrencyLimitV2 — лимит конкурентности v2 (анонимные счётчики с decay)
//
// Сущности не зависят от БД, очередей и транспорта — это чистые
// структуры данных с бизнес-логикой (проверка переходов, decay-математика).
package domain
