package scanner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"qrattendance/internal/attendance"
	"qrattendance/internal/audit"
	"qrattendance/internal/metrics"
)

// Registry hands out one Device per device id.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device

	engine    *attendance.Engine
	directory attendance.Directory
	sections  SectionStore
	publisher *audit.Publisher
	metrics   *metrics.Metrics
	listener  Listener
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSectionStore persists selected sections.
func WithSectionStore(s SectionStore) Option { return func(r *Registry) { r.sections = s } }

// WithPublisher sends scan events to the audit queue.
func WithPublisher(p *audit.Publisher) Option { return func(r *Registry) { r.publisher = p } }

// WithMetrics records scan metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithListener observes every decision.
func WithListener(l Listener) Option { return func(r *Registry) { r.listener = l } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.logger = l } }

// NewRegistry creates an empty registry.
func NewRegistry(engine *attendance.Engine, directory attendance.Directory, opts ...Option) *Registry {
	r := &Registry{
		devices:   make(map[string]*Device),
		engine:    engine,
		directory: directory,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Device returns the device for id, creating it on first use. A new device
// restores its section from the SectionStore when one is configured.
func (r *Registry) Device(ctx context.Context, id string) *Device {
	r.mu.Lock()
	d, ok := r.devices[id]
	r.mu.Unlock()
	if ok {
		return d
	}

	d = &Device{
		id:        id,
		engine:    r.engine,
		directory: r.directory,
		sections:  r.sections,
		publisher: r.publisher,
		metrics:   r.metrics,
		listener:  r.listener,
		logger:    r.logger,
	}
	// Loaded outside r.mu; a concurrent caller may win the insert below.
	if r.sections != nil {
		saved, err := r.sections.LoadSection(ctx, id)
		if err != nil {
			r.logger.Warn("restore device section", zap.String("device_id", id), zap.Error(err))
		} else if saved != nil {
			d.section.Select(*saved)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.devices[id]; ok {
		return existing
	}
	r.devices[id] = d
	return d
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}
