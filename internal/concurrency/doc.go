// Package concurrency — менеджеры слотов лимитов конкурентности.
//
// Manager (v1) работает с лимитами по тегам: при переходе task run в
// RUNNING занимается по одному слоту в каждом лимите, чей тег есть у
// run, атомарно по принципу всё-или-ничего. Слоты идентифицированы
// владельцами (task_run_id), поэтому release идемпотентен.
//
// ManagerV2 работает с именованными лимитами и анонимными счётчиками
// слотов; поддерживает режимы all-or-nothing / as-many-as-possible и
// decay занятых слотов по времени.
//
// Оба менеджера не блокируют вызывающего на уровне принятия решения:
// нехватка слотов — это CapacityError с рекомендуемой задержкой, retry
// остаётся заботой вызывающего. Блокирующий Acquire v1 — тонкая
// обёртка с ограниченным по timeout циклом повторов.
//
// Корректность при конкурентном доступе обеспечивает хранилище:
// все изменения счётчиков идут в одной транзакции с блокировкой строк
// в каноническом порядке (по id), см. internal/repo.
package concurrency
