// Cadence Sweeper — фоновые обходы состояния оркестрации.
//
// Sweeper:
//   - Помечает просроченные SCHEDULED runs как Late
//   - Доканчивает зависшие CANCELLING runs
//   - Освобождает слоты завершённых и удалённых task runs
//   - Обновляет gauge-метрики занятости слотов
//
// В кластере работает только один активный sweeper: лидерство
// удерживается через pg advisory lock.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/events"
	"github.com/shaiso/Cadence/internal/mq"
	"github.com/shaiso/Cadence/internal/orchestration"
	"github.com/shaiso/Cadence/internal/repo"
	"github.com/shaiso/Cadence/internal/services"
	"github.com/shaiso/Cadence/internal/telemetry"
)

const sweeperLockKey int64 = 910910

func main() {
	logger := telemetry.SetupLogger()
	logger.Info("starting cadence-sweeper")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	runRepo := repo.NewRunRepo(pool)
	limitRepo := repo.NewLimitRepo(pool)
	limitV2Repo := repo.NewLimitV2Repo(pool)

	// События sweeper публикует так же, как server: переходы,
	// сделанные обходами, видны подписчикам.
	var emitter *events.Emitter
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	if mqConn, err := mq.NewConnection(mqURL, logger); err != nil {
		logger.Warn("RabbitMQ not available, events disabled", "error", err)
	} else {
		defer mqConn.Close()
		emitter = events.NewEmitter(mq.NewPublisher(mqConn, logger), logger)
	}

	slots := concurrency.NewManager(concurrency.ManagerConfig{
		Store:   limitRepo,
		Emitter: emitter,
		Logger:  logger,
	})

	engine := orchestration.NewEngine(orchestration.Config{
		Store:   runRepo,
		Rules:   orchestration.CorePolicy(slots),
		Emitter: emitter,
		Logger:  logger,
	})

	maint := services.New(services.Config{
		Runs:     runRepo,
		Engine:   engine,
		Limits:   limitRepo,
		LimitsV2: limitV2Repo,
		Logger:   logger,
	})

	// Обходы запускаются только у лидера
	go runAsLeader(ctx, pool, maint, logger)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":8081"
	if v := os.Getenv("SWEEPER_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// runAsLeader раз в секунду пытается взять advisory lock и, став
// лидером, запускает обходы. Лок держится до завершения процесса,
// поэтому повторная проверка не нужна.
func runAsLeader(ctx context.Context, pool *pgxpool.Pool, maint *services.Maintenance, logger *slog.Logger) {
	tk := time.NewTicker(1 * time.Second)
	defer tk.Stop()

	var isLeader bool
	defer func() {
		if isLeader {
			maint.Stop()
			_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", sweeperLockKey)
		}
	}()

	for {
		select {
		case <-tk.C:
			if isLeader {
				continue
			}

			var ok bool
			if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", sweeperLockKey).Scan(&ok); err != nil {
				logger.Error("leader lock error", "error", err)
				continue
			}
			if !ok {
				continue
			}

			isLeader = true
			logger.Info("acquired leadership, starting sweeps")
			if err := maint.Start(ctx); err != nil {
				logger.Error("failed to start sweeps", "error", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}
