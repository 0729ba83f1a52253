// Cadence Server — API и движок оркестрации в одном процессе.
//
// Server:
//   - Принимает HTTP-предложения переходов и запросы слотов
//   - Прогоняет переходы через конвейер правил оркестрации
//   - Потребляет асинхронные предложения из RabbitMQ
//   - Публикует события переходов и слотов
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Cadence/internal/api"
	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/events"
	"github.com/shaiso/Cadence/internal/mq"
	"github.com/shaiso/Cadence/internal/orchestration"
	"github.com/shaiso/Cadence/internal/repo"
	"github.com/shaiso/Cadence/internal/services"
	"github.com/shaiso/Cadence/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting cadence-server")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	limitRepo := repo.NewLimitRepo(pool)
	limitV2Repo := repo.NewLimitV2Repo(pool)

	// RabbitMQ: без него работаем, но события и асинхронные
	// предложения будут недоступны.
	var publisher *mq.Publisher
	var emitter *events.Emitter
	var mqConn *mq.Connection

	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, events disabled", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
		emitter = events.NewEmitter(publisher, logger)
	}

	// Менеджеры слотов
	slots := concurrency.NewManager(concurrency.ManagerConfig{
		Store:   limitRepo,
		Emitter: emitter,
		Logger:  logger,
	})
	slotsV2 := concurrency.NewManagerV2(concurrency.ManagerV2Config{
		Store:   limitV2Repo,
		Emitter: emitter,
		Logger:  logger,
	})

	// Движок оркестрации с базовым конвейером правил
	engine := orchestration.NewEngine(orchestration.Config{
		Store:   runRepo,
		Rules:   orchestration.CorePolicy(slots),
		Emitter: emitter,
		Logger:  logger,
	})

	// Асинхронный приём предложений из очереди
	if mqConn != nil {
		intake := services.NewProposalIntake(mqConn, engine, publisher, logger)
		go func() {
			if err := intake.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("proposal intake error", "error", err)
			}
		}()
		defer intake.Stop()
	}

	// API handler
	handler := api.NewHandler(api.Config{
		RunRepo:     runRepo,
		LimitRepo:   limitRepo,
		LimitV2Repo: limitV2Repo,
		Engine:      engine,
		Slots:       slots,
		SlotsV2:     slotsV2,
		Publisher:   publisher,
		Logger:      logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
