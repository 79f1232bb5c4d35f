// Package scheduler runs the periodic background jobs: stale plan refresh,
// reminder dispatch, missed-action warnings and expired token sweeps.
package scheduler

import (
	"fmt"
	"time"
)

// Job names.
const (
	JobRefreshPlans   = "refresh_plans"
	JobReminders      = "reminders"
	JobMissedWarnings = "missed_warnings"
	JobTokenSweep     = "token_sweep"
)

// Jobs lists every job in run order.
var Jobs = []string{JobRefreshPlans, JobReminders, JobMissedWarnings, JobTokenSweep}

// Config defines the scheduler configuration.
type Config struct {
	// Interval is the time between job rounds.
	Interval time.Duration `yaml:"interval"`
	// PlanMaxAge is the age after which a plan is regenerated.
	PlanMaxAge time.Duration `yaml:"plan_max_age"`
	// RefreshWorkers is the maximum number of concurrent plan refreshes.
	RefreshWorkers int `yaml:"refresh_workers"`
	// ReminderLead is how long before an action its reminder goes out.
	ReminderLead time.Duration `yaml:"reminder_lead"`
	// MissedGrace is how long after an action it counts as missed.
	MissedGrace time.Duration `yaml:"missed_grace"`
	// Enabled toggles individual jobs; absent jobs are enabled.
	Enabled map[string]bool `yaml:"enabled"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:       5 * time.Minute,
		PlanMaxAge:     24 * time.Hour,
		RefreshWorkers: 4,
		ReminderLead:   time.Hour,
		MissedGrace:    2 * time.Hour,
		Enabled: map[string]bool{
			JobRefreshPlans:   true,
			JobReminders:      true,
			JobMissedWarnings: true,
			JobTokenSweep:     true,
		},
	}
}

// JobEnabled reports whether a job should run.
func (c *Config) JobEnabled(name string) bool {
	if enabled, ok := c.Enabled[name]; ok {
		return enabled
	}
	return true
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.PlanMaxAge <= 0 {
		return fmt.Errorf("plan_max_age must be positive")
	}
	if c.RefreshWorkers < 1 {
		return fmt.Errorf("refresh_workers must be at least 1")
	}
	if c.ReminderLead < 0 || c.MissedGrace < 0 {
		return fmt.Errorf("reminder_lead and missed_grace must not be negative")
	}
	for name := range c.Enabled {
		if !knownJob(name) {
			return fmt.Errorf("unknown job %q", name)
		}
	}
	return nil
}

func knownJob(name string) bool {
	for _, j := range Jobs {
		if j == name {
			return true
		}
	}
	return false
}
