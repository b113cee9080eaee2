package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asofdb/asof/internal/core/domain"
	"github.com/asofdb/asof/internal/core/ports"
)

// OutboxDispatcher drains the change-feed outbox in the background. Version
// appends write outbox rows transactionally; this loop replays them to the
// configured publisher so downstream mirrors see every committed write.
//
// The feed preserves each collection's log order. When an event fails, the
// rest of its collection holds behind it until the retry clears, so a
// consumer never sees an update before the create it follows. An envelope
// that cannot be decoded, or that contradicts its own outbox row, is
// dead-lettered immediately: retrying a row that will never parse only
// stalls its collection.
type OutboxDispatcher struct {
	repo      ports.OutboxRepository
	publisher ports.EventPublisher
	interval  time.Duration
	batchSize int
	maxRetry  int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	successTotal atomic.Int64
	failureTotal atomic.Int64
	heldTotal    atomic.Int64
	deadTotal    atomic.Int64
}

type OutboxDispatcherMetrics struct {
	DispatchSuccessTotal int64
	DispatchFailureTotal int64
	DispatchHeldTotal    int64
	DispatchDeadTotal    int64
}

func NewOutboxDispatcher(repo ports.OutboxRepository, publisher ports.EventPublisher, interval time.Duration, batchSize int) *OutboxDispatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &OutboxDispatcher{repo: repo, publisher: publisher, interval: interval, batchSize: batchSize, maxRetry: 5}
}

func (d *OutboxDispatcher) Start(parent context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

func (d *OutboxDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

func (d *OutboxDispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.dispatchBatch(ctx); err != nil {
			log.Printf("change feed drain: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// holdPoint records why a collection is blocked this round: the event id of
// the failed predecessor and the instant its retry is due.
type holdPoint struct {
	blocker string
	next    string
}

func (d *OutboxDispatcher) dispatchBatch(ctx context.Context) error {
	events, err := d.repo.FetchPending(ctx, d.batchSize)
	if err != nil {
		return err
	}

	held := map[string]holdPoint{}

	for _, event := range events {
		if hp, blocked := held[event.Collection]; blocked {
			// The event itself is healthy; it only has to stay behind its
			// failed predecessor, so its attempt count does not move.
			if err := d.repo.MarkFailed(ctx, event.ID, event.Attempts, hp.next, "held behind event "+hp.blocker); err != nil {
				return err
			}
			d.heldTotal.Add(1)
			continue
		}

		envelope, err := decodeEnvelope(event)
		if err != nil {
			if err := d.repo.MarkDead(ctx, event.ID, event.Attempts+1, err.Error()); err != nil {
				return err
			}
			d.deadTotal.Add(1)
			continue
		}

		if err := d.publisher.Publish(ctx, event.Topic, envelope); err != nil {
			next, markErr := d.deferOrBury(ctx, event, err.Error())
			if markErr != nil {
				return markErr
			}
			if next != "" {
				held[event.Collection] = holdPoint{blocker: event.EventID, next: next}
			}
			continue
		}

		if err := d.repo.MarkDispatched(ctx, event.ID); err != nil {
			return err
		}
		d.successTotal.Add(1)
	}

	return nil
}

// deferOrBury schedules a retry for a failed event, or dead-letters it once
// the retry budget is spent. It returns the retry instant, or "" when the
// event went dead and its collection may move on without it.
func (d *OutboxDispatcher) deferOrBury(ctx context.Context, event domain.OutboxEvent, cause string) (string, error) {
	attempts := event.Attempts + 1
	if attempts >= d.maxRetry {
		if err := d.repo.MarkDead(ctx, event.ID, attempts, cause); err != nil {
			return "", err
		}
		d.deadTotal.Add(1)
		return "", nil
	}
	next := time.Now().UTC().Add(retryDelay(attempts)).Format(time.RFC3339Nano)
	if err := d.repo.MarkFailed(ctx, event.ID, attempts, next, cause); err != nil {
		return "", err
	}
	d.failureTotal.Add(1)
	return next, nil
}

// decodeEnvelope unpacks the row's envelope and cross-checks it against the
// row itself. A mismatch means the row was corrupted after the append wrote
// both halves in one transaction, and it can never be replayed truthfully.
func decodeEnvelope(event domain.OutboxEvent) (domain.EventEnvelope, error) {
	var envelope domain.EventEnvelope
	if err := json.Unmarshal(event.PayloadJSON, &envelope); err != nil {
		return domain.EventEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Collection != event.Collection {
		return domain.EventEnvelope{}, fmt.Errorf("envelope collection %q does not match outbox row %q", envelope.Collection, event.Collection)
	}
	return envelope, nil
}

func (d *OutboxDispatcher) Metrics() OutboxDispatcherMetrics {
	return OutboxDispatcherMetrics{
		DispatchSuccessTotal: d.successTotal.Load(),
		DispatchFailureTotal: d.failureTotal.Load(),
		DispatchHeldTotal:    d.heldTotal.Load(),
		DispatchDeadTotal:    d.deadTotal.Load(),
	}
}

func retryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	d := time.Duration(attempt*attempt) * time.Second
	if d > 5*time.Minute {
		return 5 * time.Minute
	}
	return d
}
