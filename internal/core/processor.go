package core

import (
	"context"
	"fmt"
)

// processEvent runs the full per-event pipeline: enrich → index → update
// statistics → mark processed → persist (scoped fan-out) → lineage → detect →
// alert. The caller requeues the pre-processing snapshot on error.
//
// Already-processed ids are skipped, making reprocessing idempotent. The
// index insert dedupes by id as well, so a retry after a failed persist does
// not double-count statistics.
func (s *Service) processEvent(ctx context.Context, event *AuditEvent) error {
	if s.guard.Seen(event.ID) {
		s.metrics.add(func(m *ServiceMetrics) { m.EventsDeduplicated++ })
		s.logger.Debug().Str("event_id", event.ID).Msg("event already processed, skipping")
		return nil
	}

	// Step 1: resource enrichment. Failure stops the pipeline here.
	kind := ClassifyResource(event.Resource)
	if proc, ok := s.processors[kind]; ok {
		if err := proc.Process(event); err != nil {
			event.Status = StatusError
			event.ProcessingError = err.Error()
			return fmt.Errorf("resource processor %s: %w", kind, err)
		}
	}

	// Steps 2–3: index and statistics, gated together on the id so retries
	// increment exactly once.
	if s.indexer.Insert(event) {
		s.stats.Record(event)
	}

	// Step 4: mark processed.
	now := s.now().UTC()
	event.Status = StatusProcessed
	event.ProcessedAt = &now
	event.ProcessingError = ""

	// Step 5: persist, fanning out tenant/factory copies atomically.
	if err := s.store.PutEventScoped(ctx, event); err != nil {
		return fmt.Errorf("persisting event %s: %w", event.ID, err)
	}

	// Step 6: lineage.
	if s.lineage.Record(event) {
		s.logger.Debug().Str("event_id", event.ID).Msg("lineage edge recorded")
	}

	// Step 7: threat detection on the processed event. The event's security
	// context caches this single pass.
	findings := s.detector.Detect(ctx, event)
	types := make([]string, 0, len(findings))
	for _, f := range findings {
		types = append(types, f.Type)
	}
	event.SecurityContext = &SecurityContext{
		ThreatLevel:  MaxSeverity(findings),
		FindingTypes: types,
		EvaluatedAt:  now,
	}

	for _, f := range findings {
		if f.Severity < s.cfg.Alerts.MinSeverity {
			continue
		}
		if _, err := s.alerts.Raise(ctx, event, f); err != nil {
			return fmt.Errorf("raising %s alert for event %s: %w", f.Type, event.ID, err)
		}
		s.metrics.add(func(m *ServiceMetrics) { m.AlertsRaised++ })
	}

	// Refresh the stored document with the detection outcome. Best effort:
	// the primary write above already committed.
	if err := s.store.PutEvent(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to update stored security context")
	}

	s.guard.Mark(event.ID)

	if s.bus != nil {
		if err := s.bus.PublishEvent(event); err != nil {
			s.logger.Warn().Err(err).Str("event_id", event.ID).Msg("failed to publish event to bus")
		}
	}

	s.metrics.add(func(m *ServiceMetrics) { m.EventsProcessed++ })
	return nil
}

// requeue puts the pre-processing snapshot back on the queue with exponential
// backoff, or dead-letters it once the retry budget is exhausted.
func (s *Service) requeue(snapshot *AuditEvent, prior *queueEntry, cause error) {
	attempts := prior.attempts + 1

	if attempts > s.cfg.Pipeline.MaxRetries {
		entry := &DeadLetter{
			Event:     snapshot,
			Attempts:  attempts,
			LastError: cause.Error(),
			FailedAt:  s.now().UTC(),
		}
		s.dead.add(entry)
		if err := s.store.PutDeadLetter(context.Background(), entry); err != nil {
			s.logger.Error().Err(err).Str("event_id", snapshot.ID).Msg("failed to persist dead letter")
		}
		s.metrics.add(func(m *ServiceMetrics) { m.EventsDeadLettered++ })
		s.logger.Error().Err(cause).
			Str("event_id", snapshot.ID).
			Int("attempts", attempts).
			Msg("event exhausted retry budget, dead-lettered")
		return
	}

	backoff := s.cfg.Pipeline.InitialBackoff << (attempts - 1)
	if max := s.cfg.Pipeline.MaxBackoff; backoff > max {
		backoff = max
	}

	s.queue.push(&queueEntry{
		event:     snapshot,
		attempts:  attempts,
		notBefore: s.now().Add(backoff),
	})
	s.metrics.add(func(m *ServiceMetrics) { m.EventsFailed++ })
	s.logger.Warn().Err(cause).
		Str("event_id", snapshot.ID).
		Int("attempt", attempts).
		Dur("backoff", backoff).
		Msg("event processing failed, requeued")
}
