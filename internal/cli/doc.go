// Package cli содержит команды консольного клиента Cadence.
//
// Команды сгруппированы по ресурсам API: runs (run), v1-лимиты
// конкурентности (limit) и v2-лимиты (limit-v2). Каждая группа
// создаётся фабричной функцией (NewRunCmd и т.д.), принимающей
// clientFn и outputFn — замыкания для ленивого создания Client и
// Output после парсинга PersistentFlags.
//
// Client намеренно не импортирует internal/api: типы ответов
// продублированы, чтобы CLI можно было собирать и раздавать отдельно
// от сервера.
package cli
