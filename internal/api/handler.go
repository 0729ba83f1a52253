package api

import (
	"log/slog"

	"github.com/shaiso/Cadence/internal/concurrency"
	"github.com/shaiso/Cadence/internal/mq"
	"github.com/shaiso/Cadence/internal/orchestration"
	"github.com/shaiso/Cadence/internal/repo"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runRepo     *repo.RunRepo
	limitRepo   *repo.LimitRepo
	limitV2Repo *repo.LimitV2Repo
	engine      *orchestration.Engine
	slots       *concurrency.Manager
	slotsV2     *concurrency.ManagerV2
	publisher   *mq.Publisher
	logger      *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	RunRepo     *repo.RunRepo
	LimitRepo   *repo.LimitRepo
	LimitV2Repo *repo.LimitV2Repo
	Engine      *orchestration.Engine
	Slots       *concurrency.Manager
	SlotsV2     *concurrency.ManagerV2
	Publisher   *mq.Publisher
	Logger      *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		runRepo:     cfg.RunRepo,
		limitRepo:   cfg.LimitRepo,
		limitV2Repo: cfg.LimitV2Repo,
		engine:      cfg.Engine,
		slots:       cfg.Slots,
		slotsV2:     cfg.SlotsV2,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
	}
}
