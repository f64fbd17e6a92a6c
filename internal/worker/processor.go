package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"automation-engine/internal/cache"
	"automation-engine/internal/config"
	"automation-engine/internal/models"
	"automation-engine/internal/telemetry"
)

// EventStore is the slice of the store the worker drives. The event's status
// column is the sole concurrency-control token; ClaimNext must be a single
// atomic conditional update.
type EventStore interface {
	ClaimNext(ctx context.Context, now time.Time) (models.Event, bool, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, ev models.Event, cause string) (string, error)
	PendingDepth(ctx context.Context, now time.Time) (int64, error)
}

// TriggerHandler runs matched workflows for a routed trigger.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, ev models.Event, trigger models.TriggerType) error
}

// WebhookDispatcher fans an event out to external subscribers.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, ev models.Event) error
}

// CacheInvalidator drops read-side aggregates after a successful event.
type CacheInvalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Processor drives the cooperative polling loop: claim at most one event per
// tick, route it, then complete it or schedule a retry. One event is fully
// processed before the next claim within a process; multiple processes scale
// horizontally through the store's atomic claim alone.
type Processor struct {
	cfg        config.Config
	store      EventStore
	engine     TriggerHandler
	dispatcher WebhookDispatcher
	cache      CacheInvalidator
}

func NewProcessor(cfg config.Config, store EventStore, engine TriggerHandler, dispatcher WebhookDispatcher, cache CacheInvalidator) *Processor {
	return &Processor{
		cfg:        cfg,
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		cache:      cache,
	}
}

// Run polls at the configured interval until context cancellation.
func (p *Processor) Run(ctx context.Context) error {
	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// Start launches the loop and returns a stop handle that cancels it and
// waits for any in-flight tick to finish. There is no per-handler timeout:
// a stuck external call blocks the loop until it returns.
func (p *Processor) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (p *Processor) tick(ctx context.Context) {
	if depth, err := p.store.PendingDepth(ctx, time.Now()); err == nil {
		telemetry.PendingDepth.Set(float64(depth))
	}

	ev, ok, err := p.store.ClaimNext(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("claim event")
		return
	}
	if !ok {
		return
	}
	telemetry.EventsClaimed.Inc()

	if err := p.process(ctx, ev); err != nil {
		status, ferr := p.store.Fail(ctx, ev, err.Error())
		if ferr != nil {
			log.Error().Err(ferr).Str("event_id", ev.ID).Msg("record event failure")
			return
		}
		if status == models.EventFailed {
			telemetry.EventsDeadLettered.Inc()
			log.Warn().Str("event_id", ev.ID).Str("type", ev.Type).Err(err).Msg("event terminally failed")
		} else {
			telemetry.EventsRetried.Inc()
			log.Info().Str("event_id", ev.ID).Str("type", ev.Type).Int("attempts", ev.Attempts+1).Err(err).Msg("event rescheduled")
		}
		return
	}

	if err := p.store.Complete(ctx, ev.ID); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("complete event")
		return
	}
	if err := p.cache.InvalidatePrefix(ctx, cache.OrgPrefix(ev.OrgID)); err != nil {
		log.Warn().Err(err).Str("org_id", ev.OrgID).Msg("invalidate aggregates")
	}
	telemetry.EventsSucceeded.Inc()
}

// process routes the event to matched workflows, then unconditionally
// attempts webhook fan-out. An error from either — including a single
// rejected webhook delivery — fails the whole event. Side effects already
// applied are not rolled back, so a retry re-executes the entire handler
// and can duplicate records created on the previous attempt.
func (p *Processor) process(ctx context.Context, ev models.Event) error {
	if trigger, ok := TriggerFor(ev); ok {
		if err := p.engine.HandleTrigger(ctx, ev, trigger); err != nil {
			return err
		}
	}
	return p.dispatcher.Dispatch(ctx, ev)
}
