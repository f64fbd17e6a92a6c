package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"automation-engine/internal/config"
	"automation-engine/internal/models"
)

type fakeEventStore struct {
	next      *models.Event
	completed []string
	failed    []string
	failCause string
}

func (f *fakeEventStore) ClaimNext(_ context.Context, _ time.Time) (models.Event, bool, error) {
	if f.next == nil {
		return models.Event{}, false, nil
	}
	ev := *f.next
	f.next = nil
	return ev, true, nil
}

func (f *fakeEventStore) Complete(_ context.Context, id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeEventStore) Fail(_ context.Context, ev models.Event, cause string) (string, error) {
	f.failed = append(f.failed, ev.ID)
	f.failCause = cause
	if ev.Attempts+1 >= 5 {
		return models.EventFailed, nil
	}
	return models.EventPending, nil
}

func (f *fakeEventStore) PendingDepth(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeEngine struct {
	triggers []models.TriggerType
	err      error
}

func (f *fakeEngine) HandleTrigger(_ context.Context, _ models.Event, trigger models.TriggerType) error {
	f.triggers = append(f.triggers, trigger)
	return f.err
}

type fakeDispatcher struct {
	dispatched []string
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, ev models.Event) error {
	f.dispatched = append(f.dispatched, ev.ID)
	return f.err
}

type fakeInvalidator struct {
	prefixes []string
}

func (f *fakeInvalidator) InvalidatePrefix(_ context.Context, prefix string) error {
	f.prefixes = append(f.prefixes, prefix)
	return nil
}

func newTestProcessor(st *fakeEventStore, eng *fakeEngine, d *fakeDispatcher, inv *fakeInvalidator) *Processor {
	return NewProcessor(config.Config{PollInterval: time.Millisecond}, st, eng, d, inv)
}

func TestTickSuccessCompletesAndInvalidates(t *testing.T) {
	st := &fakeEventStore{next: &models.Event{ID: "e1", OrgID: "org1", Type: models.EventLeadCreated, Payload: map[string]any{}}}
	eng := &fakeEngine{}
	d := &fakeDispatcher{}
	inv := &fakeInvalidator{}
	p := newTestProcessor(st, eng, d, inv)

	p.tick(context.Background())

	if len(eng.triggers) != 1 || eng.triggers[0] != models.TriggerLeadCreated {
		t.Fatalf("triggers = %v", eng.triggers)
	}
	if len(d.dispatched) != 1 {
		t.Fatal("webhook fan-out must run after the handler")
	}
	if len(st.completed) != 1 || st.completed[0] != "e1" {
		t.Fatalf("completed = %v", st.completed)
	}
	if len(inv.prefixes) != 1 || inv.prefixes[0] != "agg:org1:" {
		t.Fatalf("prefixes = %v", inv.prefixes)
	}
}

func TestTickNoEventIsNoop(t *testing.T) {
	st := &fakeEventStore{}
	eng := &fakeEngine{}
	d := &fakeDispatcher{}
	p := newTestProcessor(st, eng, d, &fakeInvalidator{})

	p.tick(context.Background())

	if len(eng.triggers) != 0 || len(d.dispatched) != 0 || len(st.completed) != 0 {
		t.Fatal("expected a quiet tick")
	}
}

func TestTickHandlerErrorFailsEvent(t *testing.T) {
	st := &fakeEventStore{next: &models.Event{ID: "e1", OrgID: "org1", Type: models.EventTicketCreated}}
	eng := &fakeEngine{err: errors.New("action exploded")}
	d := &fakeDispatcher{}
	inv := &fakeInvalidator{}
	p := newTestProcessor(st, eng, d, inv)

	p.tick(context.Background())

	if len(st.failed) != 1 || st.failCause != "action exploded" {
		t.Fatalf("failed = %v cause = %q", st.failed, st.failCause)
	}
	if len(st.completed) != 0 {
		t.Fatal("failed event must not be completed")
	}
	if len(d.dispatched) != 0 {
		t.Fatal("webhook fan-out must not run after a handler error")
	}
	if len(inv.prefixes) != 0 {
		t.Fatal("aggregates must not be invalidated on failure")
	}
}

func TestTickWebhookFailureFailsWholeEvent(t *testing.T) {
	st := &fakeEventStore{next: &models.Event{ID: "e1", OrgID: "org1", Type: models.EventLeadCreated}}
	eng := &fakeEngine{}
	d := &fakeDispatcher{err: errors.New("subscriber returned 500")}
	p := newTestProcessor(st, eng, d, &fakeInvalidator{})

	p.tick(context.Background())

	// Workflows already ran; their side effects stand and will be duplicated
	// when the retry re-executes the whole handler.
	if len(eng.triggers) != 1 {
		t.Fatalf("triggers = %v", eng.triggers)
	}
	if len(st.failed) != 1 {
		t.Fatalf("failed = %v", st.failed)
	}
	if len(st.completed) != 0 {
		t.Fatal("event must not complete when a webhook delivery fails")
	}
}

func TestTickUnroutedTypeStillFansOut(t *testing.T) {
	st := &fakeEventStore{next: &models.Event{ID: "e1", OrgID: "org1", Type: models.EventProposalApproved}}
	eng := &fakeEngine{}
	d := &fakeDispatcher{}
	p := newTestProcessor(st, eng, d, &fakeInvalidator{})

	p.tick(context.Background())

	if len(eng.triggers) != 0 {
		t.Fatalf("unrouted type must not reach the engine, got %v", eng.triggers)
	}
	if len(d.dispatched) != 1 {
		t.Fatal("unrouted type still gets webhook fan-out")
	}
	if len(st.completed) != 1 {
		t.Fatal("event should complete")
	}
}

func TestTriggerRouting(t *testing.T) {
	cases := []struct {
		eventType string
		payload   map[string]any
		want      models.TriggerType
		routed    bool
	}{
		{models.EventLeadCreated, nil, models.TriggerLeadCreated, true},
		{models.EventDealUpdated, map[string]any{"stageChanged": true}, models.TriggerDealStageChanged, true},
		{models.EventDealUpdated, map[string]any{"stageChanged": false}, "", false},
		{models.EventDealUpdated, nil, "", false},
		{models.EventDealStageChanged, nil, models.TriggerDealStageChanged, true},
		{models.EventTicketCreated, nil, models.TriggerTicketCreated, true},
		{models.EventHealthScoreDropped, nil, models.TriggerHealthScoreDropped, true},
		{models.EventRenewalDueSoon, nil, models.TriggerRenewalDueSoon, true},
		{models.EventWorkflowRun, nil, "", false},
		{models.EventProposalApproved, nil, "", false},
		{"something.else", nil, "", false},
	}
	for _, tc := range cases {
		got, routed := TriggerFor(models.Event{Type: tc.eventType, Payload: tc.payload})
		if got != tc.want || routed != tc.routed {
			t.Errorf("TriggerFor(%s, %v) = (%s, %v), want (%s, %v)", tc.eventType, tc.payload, got, routed, tc.want, tc.routed)
		}
	}
}

func TestStartStop(t *testing.T) {
	st := &fakeEventStore{}
	p := newTestProcessor(st, &fakeEngine{}, &fakeDispatcher{}, &fakeInvalidator{})

	stop := p.Start()
	time.Sleep(10 * time.Millisecond)
	stop() // must return promptly and not leak the goroutine
}
