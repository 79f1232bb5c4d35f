package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/notify"
	"github.com/fentz26/cropcare/internal/store"
)

var testNow = time.Date(2026, 6, 1, 6, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakePlanner stamps a fresh plan and tracks peak concurrency.
type fakePlanner struct {
	store *store.Store
	fail  map[string]bool
	delay time.Duration

	mu      sync.Mutex
	calls   int
	active  int
	peak    int
	plantID []string
}

func (p *fakePlanner) RefreshPlan(ctx context.Context, plantID string) (*models.CarePlan, error) {
	p.mu.Lock()
	p.calls++
	p.active++
	if p.active > p.peak {
		p.peak = p.active
	}
	p.plantID = append(p.plantID, plantID)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	time.Sleep(p.delay)
	if p.fail[plantID] {
		return nil, fmt.Errorf("%w: forecast", models.ErrUpstreamUnavailable)
	}
	plan := weekPlan(testNow)
	_, err := p.store.UpdatePlant(ctx, plantID, func(pl *models.Plant) error {
		pl.CarePlan = plan
		return nil
	})
	return plan, err
}

type fakeIssuer struct {
	mu     sync.Mutex
	issued []string
	err    error
}

func (f *fakeIssuer) Issue(_ context.Context, plantID string, dayIndex int, actionID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := fmt.Sprintf("tok-%s-%d-%s", plantID, dayIndex, actionID)
	f.issued = append(f.issued, raw)
	return raw, nil
}

func (f *fakeIssuer) Link(raw string) string {
	return "https://care.example.com/complete/" + raw
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) ofType(typ string) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// seedPlant stores a plant whose day 0 has actions at the given times.
// weekPlan returns an empty 7-day plan starting on at's date.
func weekPlan(at time.Time) *models.CarePlan {
	plan := &models.CarePlan{LastUpdated: at, Source: models.SourceFallback}
	for i := 0; i < models.PlanDays; i++ {
		plan.Days = append(plan.Days, models.DayPlan{Date: at.AddDate(0, 0, i).Format(models.DateLayout)})
	}
	return plan
}

func seedPlant(t *testing.T, s *store.Store, prefs models.NotificationPrefs, times ...string) *models.Plant {
	t.Helper()
	plan := weekPlan(testNow)
	for i, hhmm := range times {
		plan.Days[0].Actions = append(plan.Days[0].Actions, models.Action{
			ID:          fmt.Sprintf("act-%d", i),
			Type:        models.ActionWater,
			Time:        hhmm,
			Description: "Water at the base",
		})
	}
	p := &models.Plant{OwnerID: "user-1", CropName: "Tomato", Quantity: 1, CarePlan: plan, Notifications: prefs, Active: true}
	if err := s.CreatePlant(context.Background(), p); err != nil {
		t.Fatalf("Failed to create plant: %v", err)
	}
	return p
}

func newTestScheduler(s *store.Store, planner Planner, issuer TokenIssuer, n notify.Notifier, cfg *Config, clock *time.Time) *Scheduler {
	return New(s, planner, issuer, n, cfg,
		WithClock(func() time.Time { return *clock }),
		WithLocation(time.UTC))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
	for _, job := range Jobs {
		if !cfg.JobEnabled(job) {
			t.Errorf("Expected job %s enabled by default", job)
		}
	}
	if cfg.RefreshWorkers != 4 {
		t.Errorf("Expected 4 refresh workers, got %d", cfg.RefreshWorkers)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero max age", func(c *Config) { c.PlanMaxAge = 0 }},
		{"no workers", func(c *Config) { c.RefreshWorkers = 0 }},
		{"negative lead", func(c *Config) { c.ReminderLead = -time.Minute }},
		{"unknown job", func(c *Config) { c.Enabled["compost"] = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestJobEnabled_MissingEntryIsEnabled(t *testing.T) {
	cfg := &Config{Enabled: map[string]bool{JobReminders: false}}
	if cfg.JobEnabled(JobReminders) {
		t.Error("Expected reminders disabled")
	}
	if !cfg.JobEnabled(JobTokenSweep) {
		t.Error("Expected token sweep enabled when absent")
	}
}

func TestActionTime(t *testing.T) {
	at, err := ActionTime("2026-06-01", "07:30", time.UTC)
	if err != nil {
		t.Fatalf("ActionTime failed: %v", err)
	}
	if !at.Equal(time.Date(2026, 6, 1, 7, 30, 0, 0, time.UTC)) {
		t.Errorf("Unexpected time %v", at)
	}
	if _, err := ActionTime("2026-06-01", "late", time.UTC); err == nil {
		t.Error("Expected error for malformed time")
	}
}

func TestRefreshStalePlans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow

	fresh := seedPlant(t, s, models.NotificationPrefs{})
	stale := seedPlant(t, s, models.NotificationPrefs{})
	if _, err := s.UpdatePlant(ctx, stale.ID, func(p *models.Plant) error {
		p.CarePlan.LastUpdated = testNow.Add(-48 * time.Hour)
		return nil
	}); err != nil {
		t.Fatalf("Failed to age plan: %v", err)
	}
	bare := &models.Plant{OwnerID: "user-1", CropName: "Chili", Quantity: 1, Active: true}
	if err := s.CreatePlant(ctx, bare); err != nil {
		t.Fatalf("Failed to create plant: %v", err)
	}
	inactive := &models.Plant{OwnerID: "user-1", CropName: "Okra", Quantity: 1}
	if err := s.CreatePlant(ctx, inactive); err != nil {
		t.Fatalf("Failed to create plant: %v", err)
	}

	planner := &fakePlanner{store: s}
	sch := newTestScheduler(s, planner, nil, nil, nil, &clock)

	res := sch.RefreshStalePlans(ctx)
	if res.Processed != 2 || res.Failed != 0 {
		t.Fatalf("Expected 2 processed, 0 failed, got %+v", res)
	}
	for _, id := range planner.plantID {
		if id == fresh.ID || id == inactive.ID {
			t.Errorf("Plant %s should not have been refreshed", id)
		}
	}

	refreshed, err := s.GetPlant(ctx, bare.ID)
	if err != nil {
		t.Fatalf("GetPlant failed: %v", err)
	}
	if refreshed.CarePlan == nil || len(refreshed.CarePlan.Days) != models.PlanDays {
		t.Errorf("Expected a stored %d-day plan for %s", models.PlanDays, bare.ID)
	}

	res = sch.RefreshStalePlans(ctx)
	if res.Processed != 0 {
		t.Errorf("Expected nothing left to refresh, got %d", res.Processed)
	}
}

func TestRefreshStalePlans_IsolatesFailuresAndBoundsWorkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow

	var ids []string
	for i := 0; i < 10; i++ {
		p := &models.Plant{OwnerID: "user-1", CropName: "Bean", Quantity: 1, Active: true}
		if err := s.CreatePlant(ctx, p); err != nil {
			t.Fatalf("Failed to create plant: %v", err)
		}
		ids = append(ids, p.ID)
	}

	cfg := DefaultConfig()
	cfg.RefreshWorkers = 3
	planner := &fakePlanner{store: s, delay: 20 * time.Millisecond, fail: map[string]bool{ids[2]: true, ids[7]: true}}
	sch := newTestScheduler(s, planner, nil, nil, cfg, &clock)

	res := sch.RefreshStalePlans(ctx)
	if res.Processed != 10 {
		t.Errorf("Expected 10 processed, got %d", res.Processed)
	}
	if res.Failed != 2 {
		t.Errorf("Expected 2 failed, got %d", res.Failed)
	}
	if planner.peak > 3 {
		t.Errorf("Concurrency exceeded worker limit: %d", planner.peak)
	}
	if planner.peak < 2 {
		t.Errorf("Expected refreshes to run in parallel, peak %d", planner.peak)
	}

	left, err := s.ListPlantsNeedingRefresh(ctx, testNow.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListPlantsNeedingRefresh failed: %v", err)
	}
	if len(left) != 2 {
		t.Errorf("Expected the 2 failed plants to remain stale, got %d", len(left))
	}
}

func TestDispatchReminders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow // 06:30

	// 07:00 is inside the 1h lead, 08:00 is not yet, 06:00 has passed.
	p := seedPlant(t, s, models.NotificationPrefs{Reminders: true}, "07:00", "08:00", "06:00")
	muted := seedPlant(t, s, models.NotificationPrefs{}, "07:00")

	issuer := &fakeIssuer{}
	n := &recordingNotifier{}
	sch := newTestScheduler(s, nil, issuer, n, nil, &clock)

	res := sch.DispatchReminders(ctx)
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("Expected 1 reminder, got %+v", res)
	}

	events := n.ofType(notify.EventActionReminder)
	if len(events) != 1 {
		t.Fatalf("Expected 1 reminder event, got %d", len(events))
	}
	ev := events[0]
	if ev.PlantID != p.ID || ev.ActionID != "act-0" || ev.DayIndex != 0 {
		t.Errorf("Unexpected event %+v", ev)
	}
	if ev.Link != "https://care.example.com/complete/tok-"+p.ID+"-0-act-0" {
		t.Errorf("Unexpected link %q", ev.Link)
	}

	stored, err := s.GetPlant(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlant failed: %v", err)
	}
	if !stored.CarePlan.Days[0].Actions[0].ReminderSent {
		t.Error("Expected act-0 marked as reminded")
	}
	if stored.CarePlan.Days[0].Actions[1].ReminderSent {
		t.Error("act-1 is outside the lead window")
	}

	mutedStored, _ := s.GetPlant(ctx, muted.ID)
	if mutedStored.CarePlan.Days[0].Actions[0].ReminderSent {
		t.Error("Plant without reminders enabled should not be touched")
	}

	// A second round does not repeat the reminder.
	res = sch.DispatchReminders(ctx)
	if res.Processed != 0 {
		t.Errorf("Expected no repeat reminders, got %d", res.Processed)
	}

	// An hour later the 08:00 action is due.
	clock = testNow.Add(time.Hour)
	res = sch.DispatchReminders(ctx)
	if res.Processed != 1 {
		t.Errorf("Expected 1 reminder for act-1, got %d", res.Processed)
	}
}

func TestDispatchReminders_IssuerFailureCountsAndSkipsMark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow

	p := seedPlant(t, s, models.NotificationPrefs{Reminders: true}, "07:00")
	n := &recordingNotifier{}
	sch := newTestScheduler(s, nil, &fakeIssuer{err: errors.New("disk full")}, n, nil, &clock)

	res := sch.DispatchReminders(ctx)
	if res.Processed != 1 || res.Failed != 1 {
		t.Fatalf("Expected 1 failed reminder, got %+v", res)
	}
	if len(n.ofType(notify.EventActionReminder)) != 0 {
		t.Error("Expected no event when issuing fails")
	}
	stored, _ := s.GetPlant(ctx, p.ID)
	if stored.CarePlan.Days[0].Actions[0].ReminderSent {
		t.Error("Failed reminder should be retried next round")
	}
}

func TestWarnMissedActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow.Add(3 * time.Hour) // 09:30

	// 07:00 is past the 2h grace, 08:00 is not, 06:00 is done.
	p := seedPlant(t, s, models.NotificationPrefs{MissedWarnings: true}, "07:00", "08:00", "06:00")
	if _, err := s.UpdatePlant(ctx, p.ID, func(pl *models.Plant) error {
		pl.CarePlan.Days[0].Actions[2].Completed = true
		return nil
	}); err != nil {
		t.Fatalf("Failed to complete action: %v", err)
	}

	n := &recordingNotifier{}
	sch := newTestScheduler(s, nil, nil, n, nil, &clock)

	res := sch.WarnMissedActions(ctx)
	if res.Processed != 1 || res.Failed != 0 {
		t.Fatalf("Expected 1 warning, got %+v", res)
	}
	events := n.ofType(notify.EventActionMissed)
	if len(events) != 1 || events[0].ActionID != "act-0" {
		t.Fatalf("Unexpected missed events %+v", events)
	}

	res = sch.WarnMissedActions(ctx)
	if res.Processed != 0 {
		t.Errorf("Expected no repeat warning, got %d", res.Processed)
	}

	stored, _ := s.GetPlant(ctx, p.ID)
	if !stored.CarePlan.Days[0].Actions[0].MissedWarned {
		t.Error("Expected act-0 marked as warned")
	}
}

func TestSweepTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow
	p := seedPlant(t, s, models.NotificationPrefs{}, "07:00")

	for i, exp := range []time.Time{testNow.Add(-time.Hour), testNow.Add(-time.Minute), testNow.Add(time.Hour)} {
		err := s.CreateToken(ctx, &models.CompletionToken{
			TokenHash: fmt.Sprintf("hash-%d", i),
			PlantID:   p.ID,
			OwnerID:   p.OwnerID,
			ActionID:  "act-0",
			ExpiresAt: exp,
			CreatedAt: testNow.Add(-2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateToken failed: %v", err)
		}
	}

	sch := newTestScheduler(s, nil, nil, nil, nil, &clock)
	res := sch.SweepTokens(ctx)
	if res.Processed != 2 {
		t.Errorf("Expected 2 swept tokens, got %d", res.Processed)
	}
	if _, err := s.GetToken(ctx, "hash-2", testNow); err != nil {
		t.Errorf("Live token should survive the sweep: %v", err)
	}
}

func TestRunOnce_RespectsEnabledJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	clock := testNow

	seedPlant(t, s, models.NotificationPrefs{Reminders: true}, "07:00")
	bare := &models.Plant{OwnerID: "user-1", CropName: "Chili", Quantity: 1, Active: true}
	if err := s.CreatePlant(ctx, bare); err != nil {
		t.Fatalf("Failed to create plant: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Enabled[JobRefreshPlans] = false
	planner := &fakePlanner{store: s}
	n := &recordingNotifier{}
	sch := newTestScheduler(s, planner, &fakeIssuer{}, n, cfg, &clock)

	sch.RunOnce(ctx)

	if planner.calls != 0 {
		t.Errorf("Disabled refresh job ran %d times", planner.calls)
	}
	if len(n.ofType(notify.EventActionReminder)) != 1 {
		t.Error("Expected reminder job to run")
	}

	stats := sch.Stats()
	jobs := stats["jobs"].(map[string]JobResult)
	if _, ok := jobs[JobRefreshPlans]; ok {
		t.Error("Disabled job should have no result")
	}
	if _, ok := jobs[JobReminders]; !ok {
		t.Error("Expected reminder result in stats")
	}
	if _, ok := jobs[JobTokenSweep]; !ok {
		t.Error("Expected sweep result in stats")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := newTestStore(t)
	clock := testNow
	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond

	bare := &models.Plant{OwnerID: "user-1", CropName: "Chili", Quantity: 1, Active: true}
	if err := s.CreatePlant(context.Background(), bare); err != nil {
		t.Fatalf("Failed to create plant: %v", err)
	}
	planner := &fakePlanner{store: s}
	sch := newTestScheduler(s, planner, nil, nil, cfg, &clock)

	sch.Start()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		planner.mu.Lock()
		calls := planner.calls
		planner.mu.Unlock()
		if calls > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	sch.Stop()

	planner.mu.Lock()
	defer planner.mu.Unlock()
	if planner.calls != 1 {
		t.Errorf("Expected exactly one refresh, got %d", planner.calls)
	}
}
