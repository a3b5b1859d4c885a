// Package app assembles the service from configuration. The api, worker
// and attendctl binaries share it.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/attendance/memstore"
	"qrattendance/internal/audit"
	"qrattendance/internal/config"
	"qrattendance/internal/httpapi"
	"qrattendance/internal/metrics"
	"qrattendance/internal/queue"
	"qrattendance/internal/scanner"
	"qrattendance/internal/store"
)

// Deps are the wired components.
type Deps struct {
	Backend attendance.Backend
	Engine  *attendance.Engine
	Metrics *metrics.Metrics
	Queue   queue.Queue

	cfg       config.App
	logger    *zap.Logger
	db        *store.DB
	redis     *store.Redis
	publisher *audit.Publisher
}

// Build opens storage, applies migrations and seeds sections. Metrics are
// registered with reg; pass nil to skip registration.
func Build(ctx context.Context, cfg config.App, logger *zap.Logger, reg prometheus.Registerer) (*Deps, error) {
	d := &Deps{cfg: cfg, logger: logger, Metrics: metrics.New(reg)}

	switch cfg.StoreBackend {
	case "memory":
		d.Backend = memstore.New()
	default:
		db, err := store.Open(cfg.StoreBackend, cfg.DatabaseURL, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
		}
		d.db = db
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		d.Backend = db.Repository()
	}

	for _, s := range cfg.Sections {
		if err := d.Backend.UpsertSection(ctx, s); err != nil {
			d.Close()
			return nil, fmt.Errorf("seed section %s: %w", s.ID, err)
		}
	}

	if cfg.QueueBackend == "redis" {
		d.redis = store.NewRedis(cfg.RedisAddr)
		d.Queue = queue.NewRedisQueue(d.redis.Client, cfg.QueueKey)
	} else {
		d.Queue = queue.NewInMemory(256)
	}
	d.publisher = audit.NewPublisher(d.Queue, logger)
	d.Engine = attendance.NewEngine(d.Backend, cfg.EngineOptions(), logger)
	return d, nil
}

// Registry builds a device registry with metrics, auditing and, when redis
// is configured, persisted device sections.
func (d *Deps) Registry(extra ...scanner.Option) *scanner.Registry {
	opts := []scanner.Option{
		scanner.WithMetrics(d.Metrics),
		scanner.WithPublisher(d.publisher),
		scanner.WithLogger(d.logger),
	}
	if d.redis != nil {
		opts = append(opts, scanner.WithSectionStore(d.redis))
	}
	return scanner.NewRegistry(d.Engine, d.Backend, append(opts, extra...)...)
}

// Consumer returns an audit consumer writing into the backend.
func (d *Deps) Consumer() *audit.Consumer {
	return audit.NewConsumer(d.Queue, d.Backend, d.Metrics, d.logger)
}

// RunsConsumerInProcess reports whether the audit consumer must run inside
// the publishing process. The in-memory queue is not shared with cmd/worker.
func (d *Deps) RunsConsumerInProcess() bool {
	return d.redis == nil
}

// Health returns dependency checks for /healthz.
func (d *Deps) Health() map[string]httpapi.HealthCheck {
	checks := map[string]httpapi.HealthCheck{}
	if d.db != nil {
		checks["db"] = d.db.Healthy
	}
	if d.redis != nil {
		checks["redis"] = d.redis.Healthy
	}
	return checks
}

// Close releases connections.
func (d *Deps) Close() {
	if d.db != nil {
		_ = d.db.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
}
