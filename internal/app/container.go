package app

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/internal/audit"
	audithttp "github.com/odyssey-erp/stockledger/internal/audit/http"
	"github.com/odyssey-erp/stockledger/internal/events"
	eventshttp "github.com/odyssey-erp/stockledger/internal/events/http"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/memstore"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/jobs"
)

// Deps carries the external connections a Container is built on. A nil Pool
// selects the in-memory stores and a nil Redis disables idempotency keys.
type Deps struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Dispatcher events.Dispatcher
	Sinks      []events.Sink
	Metrics    *observability.Metrics
}

// Container holds the wired services of one process.
type Container struct {
	Inventory *inventory.Service
	Events    *events.Service
	Audit     *audit.Service
	Publisher *events.Publisher
	Metrics   *observability.Metrics
}

// NewContainer wires the ledger, its audit trail and the event publisher.
func NewContainer(cfg *Config, logger *slog.Logger, deps Deps) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	recorder := audit.NewRecorder(nil)

	var (
		repo        inventory.RepositoryPort
		eventStore  events.Store
		auditReader audit.Reader
	)
	if deps.Pool != nil {
		repo = inventory.NewRepository(deps.Pool)
		eventStore = events.NewRepository(deps.Pool)
		auditReader = audit.NewRepository(deps.Pool)
	} else {
		store := memstore.New()
		repo = store
		eventStore = events.NewMemoryStore(store)
		auditReader = store
	}

	var idem inventory.IdempotencyPort
	if deps.Redis != nil {
		ttl := cfg.IdempotencyTTL
		idem = shared.NewIdempotencyStore(deps.Redis, ttl)
	}

	opts := []events.Option{events.WithLogger(logger), events.WithMetrics(metrics.Ledger())}
	for _, sink := range deps.Sinks {
		opts = append(opts, events.WithSink(sink))
	}
	publisher := events.NewPublisher(eventStore, deps.Dispatcher, opts...)

	ledger := inventory.NewService(repo, recorder, publisher, idem, inventory.ServiceConfig{
		AveragePrecision: cfg.AverageCostPrecision,
		Logger:           logger,
		Metrics:          metrics.Ledger(),
	})

	return &Container{
		Inventory: ledger,
		Events:    events.NewService(eventStore, recorder),
		Audit:     audit.NewService(auditReader),
		Publisher: publisher,
		Metrics:   metrics,
	}
}

// Router builds the API router over the container's services.
func (c *Container) Router(cfg *Config, logger *slog.Logger, jobHandler *jobs.Handler, ready HealthCheck) http.Handler {
	return NewRouter(RouterParams{
		Logger:           logger,
		Config:           cfg,
		InventoryHandler: inventory.NewHandler(logger, c.Inventory),
		EventsHandler:    eventshttp.NewHandler(logger, c.Events),
		AuditHandler:     audithttp.NewHandler(logger, c.Audit),
		JobHandler:       jobHandler,
		Metrics:          c.Metrics,
		Ready:            ready,
	})
}
