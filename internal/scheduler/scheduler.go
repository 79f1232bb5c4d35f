package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fentz26/cropcare/internal/metrics"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/notify"
)

// Store is the record store surface the jobs use.
type Store interface {
	ListActivePlants(ctx context.Context) ([]models.Plant, error)
	ListPlantsNeedingRefresh(ctx context.Context, before time.Time) ([]models.Plant, error)
	UpdatePlant(ctx context.Context, id string, fn func(p *models.Plant) error) (*models.Plant, error)
	SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Planner regenerates and persists a plant's plan.
type Planner interface {
	RefreshPlan(ctx context.Context, plantID string) (*models.CarePlan, error)
}

// TokenIssuer creates completion links for reminders.
type TokenIssuer interface {
	Issue(ctx context.Context, plantID string, dayIndex int, actionID string) (string, error)
	Link(raw string) string
}

// JobResult summarizes one job run. Failed records are logged and counted;
// they never abort the rest of the batch.
type JobResult struct {
	Job       string    `json:"job"`
	Processed int       `json:"processed"`
	Failed    int       `json:"failed"`
	Err       string    `json:"error,omitempty"`
	RanAt     time.Time `json:"ran_at"`
	Duration  string    `json:"duration"`
}

// Scheduler runs the background jobs on a fixed interval.
type Scheduler struct {
	store    Store
	planner  Planner
	tokens   TokenIssuer
	notifier notify.Notifier
	config   *Config

	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	loc     *time.Location

	mu      sync.Mutex
	last    map[string]JobResult
	running bool

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics records job results.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = fn
	}
}

// WithLocation sets the zone action times are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		s.loc = loc
	}
}

// New creates a scheduler. A nil cfg uses DefaultConfig.
func New(store Store, planner Planner, tokens TokenIssuer, notifier notify.Notifier, cfg *Config, opts ...Option) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	sch := &Scheduler{
		store:    store,
		planner:  planner,
		tokens:   tokens,
		notifier: notifier,
		config:   cfg,
		logger:   slog.Default(),
		now:      time.Now,
		loc:      time.Local,
		last:     make(map[string]JobResult),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start begins the scheduler loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.schedulerLoop()
	sch.logger.Info("Scheduler started", "interval", sch.config.Interval)
}

// Stop gracefully stops the scheduler, waiting for running jobs.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Info("Scheduler stopped")
}

func (sch *Scheduler) schedulerLoop() {
	defer sch.wg.Done()

	ticker := time.NewTicker(sch.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			sch.RunOnce(sch.ctx)
		}
	}
}

// RunOnce runs every enabled job concurrently and waits for them. A round
// that starts while the previous one is still running is skipped.
func (sch *Scheduler) RunOnce(ctx context.Context) {
	sch.mu.Lock()
	if sch.running {
		sch.mu.Unlock()
		sch.logger.Warn("Previous job round still running, skipping")
		return
	}
	sch.running = true
	sch.mu.Unlock()
	defer func() {
		sch.mu.Lock()
		sch.running = false
		sch.mu.Unlock()
	}()

	jobs := map[string]func(context.Context) JobResult{
		JobRefreshPlans:   sch.RefreshStalePlans,
		JobReminders:      sch.DispatchReminders,
		JobMissedWarnings: sch.WarnMissedActions,
		JobTokenSweep:     sch.SweepTokens,
	}

	var wg sync.WaitGroup
	for _, name := range Jobs {
		if !sch.config.JobEnabled(name) {
			continue
		}
		run := jobs[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}
	wg.Wait()
}

// record stores a result and reports it to metrics and the log.
func (sch *Scheduler) record(res JobResult, started time.Time) JobResult {
	res.RanAt = started
	res.Duration = time.Since(started).Round(time.Millisecond).String()

	sch.mu.Lock()
	sch.last[res.Job] = res
	sch.mu.Unlock()

	sch.metrics.JobRecords(res.Job, res.Processed, res.Failed)
	if res.Err != "" {
		sch.logger.Error("Job failed", "job", res.Job, "error", res.Err)
	} else if res.Processed > 0 || res.Failed > 0 {
		sch.logger.Info("Job finished",
			"job", res.Job,
			"processed", res.Processed,
			"failed", res.Failed)
	}
	return res
}

// RefreshStalePlans regenerates plans older than PlanMaxAge, or missing,
// using at most RefreshWorkers concurrent refreshes.
func (sch *Scheduler) RefreshStalePlans(ctx context.Context) JobResult {
	started := sch.now()
	res := JobResult{Job: JobRefreshPlans}

	plants, err := sch.store.ListPlantsNeedingRefresh(ctx, started.Add(-sch.config.PlanMaxAge))
	if err != nil {
		res.Err = err.Error()
		return sch.record(res, started)
	}

	ids := make(chan string)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	workers := min(sch.config.RefreshWorkers, max(len(plants), 1))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				_, err := sch.planner.RefreshPlan(ctx, id)
				mu.Lock()
				res.Processed++
				if err != nil {
					res.Failed++
				}
				mu.Unlock()
				if err != nil {
					sch.logger.Warn("Plan refresh failed", "plant_id", id, "error", err)
				}
			}
		}()
	}

	for _, p := range plants {
		select {
		case ids <- p.ID:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(ids)
	wg.Wait()

	return sch.record(res, started)
}

// DispatchReminders notifies owners of actions starting within ReminderLead
// and attaches a completion link. Each action is reminded once.
func (sch *Scheduler) DispatchReminders(ctx context.Context) JobResult {
	now := sch.now()
	res := JobResult{Job: JobReminders}

	plants, err := sch.store.ListActivePlants(ctx)
	if err != nil {
		res.Err = err.Error()
		return sch.record(res, now)
	}

	for _, p := range plants {
		if !p.Notifications.Reminders {
			continue
		}
		for _, due := range sch.dueActions(&p, func(a *models.Action, at time.Time) bool {
			return !a.Completed && !a.ReminderSent && !now.Before(at.Add(-sch.config.ReminderLead)) && now.Before(at)
		}) {
			res.Processed++
			if err := sch.remind(ctx, &p, due); err != nil {
				res.Failed++
				sch.logger.Warn("Reminder failed",
					"plant_id", p.ID,
					"day_index", due.dayIndex,
					"action_id", due.action.ID,
					"error", err)
			}
		}
	}
	return sch.record(res, now)
}

func (sch *Scheduler) remind(ctx context.Context, p *models.Plant, due dueAction) error {
	var link string
	if sch.tokens != nil {
		raw, err := sch.tokens.Issue(ctx, p.ID, due.dayIndex, due.action.ID)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		link = sch.tokens.Link(raw)
	}

	if err := sch.markAction(ctx, p.ID, due, func(a *models.Action) { a.ReminderSent = true }); err != nil {
		return err
	}

	notify.Dispatch(ctx, sch.notifier, sch.logger, p.OwnerID, notify.Event{
		Type:     notify.EventActionReminder,
		PlantID:  p.ID,
		DayIndex: due.dayIndex,
		ActionID: due.action.ID,
		Message:  fmt.Sprintf("%s at %s: %s", p.CropName, due.action.Time, due.action.Description),
		Link:     link,
		At:       sch.now(),
	})
	return nil
}

// WarnMissedActions notifies owners of actions left undone MissedGrace after
// their time. Each action is warned about once.
func (sch *Scheduler) WarnMissedActions(ctx context.Context) JobResult {
	now := sch.now()
	res := JobResult{Job: JobMissedWarnings}

	plants, err := sch.store.ListActivePlants(ctx)
	if err != nil {
		res.Err = err.Error()
		return sch.record(res, now)
	}

	for _, p := range plants {
		if !p.Notifications.MissedWarnings {
			continue
		}
		for _, due := range sch.dueActions(&p, func(a *models.Action, at time.Time) bool {
			return !a.Completed && !a.MissedWarned && !now.Before(at.Add(sch.config.MissedGrace))
		}) {
			res.Processed++
			err := sch.markAction(ctx, p.ID, due, func(a *models.Action) { a.MissedWarned = true })
			if err != nil {
				res.Failed++
				sch.logger.Warn("Missed warning failed",
					"plant_id", p.ID,
					"day_index", due.dayIndex,
					"action_id", due.action.ID,
					"error", err)
				continue
			}
			notify.Dispatch(ctx, sch.notifier, sch.logger, p.OwnerID, notify.Event{
				Type:     notify.EventActionMissed,
				PlantID:  p.ID,
				DayIndex: due.dayIndex,
				ActionID: due.action.ID,
				Message:  fmt.Sprintf("Missed on %s: %s", due.date, due.action.Description),
				At:       now,
			})
		}
	}
	return sch.record(res, now)
}

// SweepTokens purges expired completion tokens.
func (sch *Scheduler) SweepTokens(ctx context.Context) JobResult {
	now := sch.now()
	res := JobResult{Job: JobTokenSweep}

	n, err := sch.store.SweepExpiredTokens(ctx, now)
	if err != nil {
		res.Err = err.Error()
	}
	res.Processed = int(n)
	return sch.record(res, now)
}

type dueAction struct {
	dayIndex int
	date     string
	action   models.Action
}

// dueActions returns the plan actions for which match reports true given
// the action's scheduled instant.
func (sch *Scheduler) dueActions(p *models.Plant, match func(a *models.Action, at time.Time) bool) []dueAction {
	if p.CarePlan == nil {
		return nil
	}
	var out []dueAction
	for i, day := range p.CarePlan.Days {
		for j := range day.Actions {
			a := &day.Actions[j]
			at, err := ActionTime(day.Date, a.Time, sch.loc)
			if err != nil {
				continue
			}
			if match(a, at) {
				out = append(out, dueAction{dayIndex: i, date: day.Date, action: *a})
			}
		}
	}
	return out
}

// markAction sets a flag on one action by id in a single atomic update.
func (sch *Scheduler) markAction(ctx context.Context, plantID string, due dueAction, set func(a *models.Action)) error {
	_, err := sch.store.UpdatePlant(ctx, plantID, func(p *models.Plant) error {
		if p.CarePlan == nil {
			return fmt.Errorf("%w: plant %s has no care plan", models.ErrNotFound, plantID)
		}
		day, err := p.CarePlan.Day(due.dayIndex)
		if err != nil {
			return err
		}
		a, ok := day.ActionByID(due.action.ID)
		if !ok {
			return fmt.Errorf("%w: action %s on day %d", models.ErrNotFound, due.action.ID, due.dayIndex)
		}
		set(a)
		return nil
	})
	return err
}

// ActionTime combines a plan date and HH:MM into an instant in loc.
func ActionTime(date, hhmm string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(models.DateLayout+" 15:04", date+" "+hhmm, loc)
}

// Stats returns the last result of every job that has run.
func (sch *Scheduler) Stats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	jobs := make(map[string]JobResult, len(sch.last))
	for k, v := range sch.last {
		jobs[k] = v
	}

	return map[string]interface{}{
		"interval":        sch.config.Interval.String(),
		"refresh_workers": sch.config.RefreshWorkers,
		"running":         sch.running,
		"jobs":            jobs,
	}
}
