package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceMetrics tracks pipeline counters.
type ServiceMetrics struct {
	mu                 sync.Mutex
	EventsEnqueued     int64 `json:"events_enqueued"`
	EventsProcessed    int64 `json:"events_processed"`
	EventsFailed       int64 `json:"events_failed"`
	EventsDeadLettered int64 `json:"events_dead_lettered"`
	EventsDeduplicated int64 `json:"events_deduplicated"`
	AlertsRaised       int64 `json:"alerts_raised"`
}

func (m *ServiceMetrics) add(fn func(*ServiceMetrics)) {
	m.mu.Lock()
	fn(m)
	m.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (m *ServiceMetrics) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int64{
		"events_enqueued":      m.EventsEnqueued,
		"events_processed":     m.EventsProcessed,
		"events_failed":        m.EventsFailed,
		"events_dead_lettered": m.EventsDeadLettered,
		"events_deduplicated":  m.EventsDeduplicated,
		"alerts_raised":        m.AlertsRaised,
	}
}

// Service is the audit pipeline: it owns the queue, index, statistics,
// detector, and alert manager as the subsystem's sole shared mutable state,
// all constructed around an injected store. Multiple isolated instances can
// coexist, which the tests rely on.
type Service struct {
	cfg        *Config
	logger     zerolog.Logger
	store      Store
	bus        *EventBus
	builder    *EventBuilder
	processors map[ResourceKind]ResourceProcessor
	queue      *ingestQueue
	dead       *deadLetterBuffer
	guard      *ProcessedGuard
	indexer    *Indexer
	stats      *StatsAggregator
	detector   *ThreatDetector
	alerts     *AlertManager
	lineage    *LineageTracker
	metrics    *ServiceMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewService wires the pipeline. store is required; directory, clients, and
// bus may be nil.
func NewService(cfg *Config, store Store, directory ActorDirectory, clients ClientContextProvider, bus *EventBus, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("creating service: store is required")
	}

	guard, err := NewProcessedGuard(cfg.Pipeline.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("creating dedup guard: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		cfg:        cfg,
		logger:     logger.With().Str("component", "audit_service").Logger(),
		store:      store,
		bus:        bus,
		builder:    NewEventBuilder(directory, clients, logger),
		processors: DefaultProcessors(),
		queue:      newIngestQueue(),
		dead:       newDeadLetterBuffer(cfg.Pipeline.DeadLetterSize),
		guard:      guard,
		indexer:    NewIndexer(cfg.Pipeline.MaxIndexEntries),
		stats:      NewStatsAggregator(cfg.Stats.RetentionDays),
		detector:   NewThreatDetector(store, cfg.Detection, logger),
		alerts:     NewAlertManager(store, bus, cfg.Alerts.MaxStore, logger),
		lineage:    NewLineageTracker(cfg.Pipeline.MaxLineageEdges),
		metrics:    &ServiceMetrics{},
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
	return svc, nil
}

// Start launches the drain and maintenance loops.
func (s *Service) Start() {
	s.wg.Add(2)
	go s.drainLoop()
	go s.maintenanceLoop()
	s.logger.Info().
		Dur("drain_interval", s.cfg.Pipeline.DrainInterval).
		Int("max_retries", s.cfg.Pipeline.MaxRetries).
		Msg("audit service started")
}

// Stop cancels the loops, waits for them, and gracefully drains whatever is
// still queued so a clean shutdown loses no events.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()

	if n := s.DrainOnce(context.Background()); n > 0 {
		s.logger.Info().Int("events", n).Msg("final drain on shutdown")
	}
	s.logger.Info().Msg("audit service stopped")
}

// LogEvent builds an audit event and ingests it. Normal-priority events are
// queued and the call never fails past the build; high-priority events are
// processed synchronously and processing errors propagate to the caller.
func (s *Service) LogEvent(ctx context.Context, in EventInput, opts LogOptions) (string, error) {
	event, err := s.builder.Build(ctx, in, opts)
	if err != nil {
		return "", err
	}

	if event.Priority == PriorityHigh {
		if err := s.processEvent(ctx, event); err != nil {
			return "", err
		}
		return event.ID, nil
	}

	s.queue.push(&queueEntry{event: event})
	s.metrics.add(func(m *ServiceMetrics) { m.EventsEnqueued++ })
	return event.ID, nil
}

func (s *Service) drainLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Pipeline.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.DrainOnce(s.ctx)
		}
	}
}

// DrainOnce swaps out the queued batch and processes it sequentially in
// enqueue order. Returns the number of events handled. Exported so tests and
// shutdown can advance the pipeline without the timer.
func (s *Service) DrainOnce(ctx context.Context) int {
	batch := s.queue.drain(s.now())
	for _, entry := range batch {
		snapshot := entry.event.Clone()
		if err := s.processEvent(ctx, entry.event); err != nil {
			s.requeue(snapshot, entry, err)
		}
	}
	return len(batch)
}

func (s *Service) maintenanceLoop() {
	defer s.wg.Done()
	interval := s.cfg.Pipeline.MaintenanceInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if removed := s.stats.Prune(); removed > 0 {
				s.logger.Info().Int("buckets", removed).Msg("pruned expired statistics")
			}
		}
	}
}

// GetEvent fetches a stored event by id. Returns ErrNotFound for unknown ids.
func (s *Service) GetEvent(ctx context.Context, id string) (*AuditEvent, error) {
	return s.store.GetEvent(ctx, id)
}

// Search returns bounded event summaries from the index.
func (s *Service) Search(q SearchQuery) []EventSummary {
	return s.indexer.Search(q)
}

// Statistics aggregates daily counters over the window for the tenant (""
// for all tenants).
func (s *Service) Statistics(tenantID, window string) (Stats, error) {
	return s.stats.Query(tenantID, window)
}

// Alerts returns security alerts filtered by tenant and severity.
func (s *Service) Alerts(tenantID, severity string, limit int) ([]*SecurityAlert, error) {
	return s.alerts.Query(tenantID, severity, limit)
}

// Acknowledge marks an alert acknowledged.
func (s *Service) Acknowledge(ctx context.Context, alertID, by string) error {
	return s.alerts.Acknowledge(ctx, alertID, by)
}

// DeadLetters returns the events that exhausted their retry budget.
func (s *Service) DeadLetters() []*DeadLetter {
	return s.dead.list()
}

// Lineage returns recorded data-flow edges, optionally filtered by resource.
func (s *Service) Lineage(resource string, limit int) []LineageEdge {
	return s.lineage.Edges(resource, limit)
}

// QueueSize returns the number of events waiting in the ingestion queue.
func (s *Service) QueueSize() int {
	return s.queue.size()
}

// Metrics returns a snapshot of the pipeline counters.
func (s *Service) Metrics() map[string]int64 {
	return s.metrics.Snapshot()
}
