// Package audit moves scan events through the queue into the scan_events log.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/metrics"
	"qrattendance/internal/queue"
)

// Publisher emits scan events onto the queue.
type Publisher struct {
	q      queue.Queue
	logger *zap.Logger
}

// NewPublisher creates a publisher. A nil queue drops events.
func NewPublisher(q queue.Queue, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{q: q, logger: logger}
}

// Publish enqueues evt, filling ID and OccurredAt when empty. Failures are
// logged; the audit trail never blocks a scan.
func (p *Publisher) Publish(ctx context.Context, evt attendance.ScanEvent) {
	if p == nil || p.q == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	msg, err := queue.Encode(queue.TypeScanEvent, evt)
	if err != nil {
		p.logger.Error("encode scan event", zap.Error(err))
		return
	}
	if err := p.q.Publish(ctx, msg); err != nil {
		p.logger.Warn("queue publish failed", zap.String("event_id", evt.ID), zap.Error(err))
	}
}

// Consumer persists queued scan events.
type Consumer struct {
	q       queue.Queue
	log     attendance.AuditLog
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConsumer creates a consumer writing to log.
func NewConsumer(q queue.Queue, log attendance.AuditLog, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{q: q, log: log, metrics: m, logger: logger}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	messages, err := c.q.Consume(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("audit consumer started")
	for msg := range messages {
		c.handle(ctx, msg)
	}
	c.logger.Info("audit consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg queue.Message) {
	if msg.Type != queue.TypeScanEvent {
		c.logger.Debug("skipping message", zap.String("type", msg.Type))
		return
	}
	var evt attendance.ScanEvent
	if err := msg.Decode(&evt); err != nil {
		c.logger.Warn("decode scan event", zap.Error(err))
		c.metrics.ObserveAudit(false)
		return
	}
	if err := c.log.InsertScanEvent(ctx, evt); err != nil {
		c.logger.Error("persist scan event", zap.String("event_id", evt.ID), zap.Error(err))
		c.metrics.ObserveAudit(false)
		return
	}
	c.metrics.ObserveAudit(true)
}
