package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"automation-engine/internal/models"
)

// HealthThreshold is the score under which a customer counts as at risk.
// An event fires only when a recompute crosses it downward.
const HealthThreshold = 60

// Source is the slice of the store the scheduler reads and updates.
// Satisfied by *store.Store.
type Source interface {
	ContractsExpiringWithin(ctx context.Context, window time.Duration) ([]models.Contract, error)
	HealthProfiles(ctx context.Context) ([]models.HealthProfile, error)
	UpdateHealthScore(ctx context.Context, id string, score int) error
}

// Emitter persists synthesized events.
type Emitter interface {
	Emit(ctx context.Context, orgID, eventType string, payload map[string]any, delay time.Duration) (models.Event, error)
}

// Scheduler is the time-driven producer outside the request path. On each
// cadence it scans contracts entering the renewal notice window and
// recomputes customer health scores.
type Scheduler struct {
	source   Source
	emitter  Emitter
	interval time.Duration
	window   time.Duration
}

func New(source Source, emitter Emitter, interval time.Duration, noticeDays int) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if noticeDays <= 0 {
		noticeDays = 30
	}
	return &Scheduler{
		source:   source,
		emitter:  emitter,
		interval: interval,
		window:   time.Duration(noticeDays) * 24 * time.Hour,
	}
}

// Run executes the cadence until context cancellation. The first pass runs
// immediately so a restarted process does not wait out a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Start launches the cadence and returns a stop handle that cancels it and
// waits for any in-flight pass to finish.
func (s *Scheduler) Start() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

// RunOnce performs one scan. Per-item failures are contained: one bad
// contract or profile never blocks the rest of the batch.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.scanRenewals(ctx)
	s.recomputeHealth(ctx)
}

func (s *Scheduler) scanRenewals(ctx context.Context) {
	contracts, err := s.source.ContractsExpiringWithin(ctx, s.window)
	if err != nil {
		log.Error().Err(err).Msg("scan contracts")
		return
	}
	for _, c := range contracts {
		_, err := s.emitter.Emit(ctx, c.OrgID, models.EventRenewalDueSoon, map[string]any{
			"contractId":  c.ID,
			"customerId":  c.CustomerID,
			"renewalDate": c.RenewalDate.UTC().Format(time.RFC3339),
			"value":       c.Value,
		}, 0)
		if err != nil {
			log.Error().Err(err).Str("contract_id", c.ID).Msg("emit renewal.due_soon")
		}
	}
}

func (s *Scheduler) recomputeHealth(ctx context.Context) {
	profiles, err := s.source.HealthProfiles(ctx)
	if err != nil {
		log.Error().Err(err).Msg("load health profiles")
		return
	}
	for _, p := range profiles {
		if err := s.recomputeOne(ctx, p); err != nil {
			log.Error().Err(err).Str("profile_id", p.ID).Msg("recompute health score")
		}
	}
}

// recomputeOne emits health.score_dropped on a downward crossing of the
// threshold, then persists the new score. A customer already below the
// threshold stays silent until they recover and drop again.
//
// Emit comes first: a failed emit leaves the old score in place so the next
// pass re-detects the crossing, at the cost of a possible duplicate event if
// the persist fails after a successful emit. Losing the drop outright would
// be worse.
func (s *Scheduler) recomputeOne(ctx context.Context, p models.HealthProfile) error {
	score := ComputeScore(p)
	if p.Score >= HealthThreshold && score < HealthThreshold {
		_, err := s.emitter.Emit(ctx, p.OrgID, models.EventHealthScoreDropped, map[string]any{
			"customerId":    p.CustomerID,
			"previousScore": p.Score,
			"score":         score,
		}, 0)
		if err != nil {
			return err
		}
	}
	return s.source.UpdateHealthScore(ctx, p.ID, score)
}

// ComputeScore folds a profile's signals into a 0-100 health score.
func ComputeScore(p models.HealthProfile) int {
	score := 100
	score -= 5 * p.OpenTickets
	score -= 2 * p.DaysSinceActivity
	if p.UsageRatio < 0.5 {
		score -= 20
	} else if p.UsageRatio < 0.8 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
