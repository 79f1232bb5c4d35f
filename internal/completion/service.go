// Package completion issues and redeems single-use completion links. Only the
// SHA-256 of a token is stored; the raw value exists in the link alone.
package completion

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/cropcare/internal/metrics"
	"github.com/fentz26/cropcare/internal/models"
	"github.com/fentz26/cropcare/internal/notify"
)

// tokenBytes is the entropy of a raw token.
const tokenBytes = 32

// DefaultTTL is how long an issued token stays redeemable.
const DefaultTTL = 7 * 24 * time.Hour

// RedeemPath is the public path prefix of completion links.
const RedeemPath = "/complete/"

// Store persists plants and token records.
type Store interface {
	GetPlant(ctx context.Context, id string) (*models.Plant, error)
	CreateToken(ctx context.Context, tok *models.CompletionToken) error
	RedeemToken(ctx context.Context, hash string, now time.Time, apply func(p *models.Plant, tok *models.CompletionToken) error) (*models.Plant, *models.CompletionToken, error)
}

// Redemption is the result of redeeming a token. AlreadyCompleted is true
// when the action was done before this call, including when the token itself
// was already used.
type Redemption struct {
	Plant            *models.Plant `json:"plant"`
	DayIndex         int           `json:"day_index"`
	Action           models.Action `json:"action"`
	AlreadyCompleted bool          `json:"already_completed"`
}

// Service issues and redeems completion tokens.
type Service struct {
	store    Store
	baseURL  string
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
	random   io.Reader
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sends action.completed events on redemption.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithMetrics records redemption outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		s.now = fn
	}
}

// WithTTL sets the token lifetime.
func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		s.ttl = d
	}
}

// WithRandom sets the entropy source.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		s.random = r
	}
}

// NewService creates a Service whose links are rooted at baseURL.
func NewService(store Store, baseURL string, opts ...Option) *Service {
	s := &Service{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default(),
		now:     time.Now,
		ttl:     DefaultTTL,
		random:  rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashToken returns the stored form of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Issue creates a token for one action and returns its raw value.
func (s *Service) Issue(ctx context.Context, plantID string, dayIndex int, actionID string) (string, error) {
	if plantID == "" || actionID == "" {
		return "", fmt.Errorf("%w: plant id and action id are required", models.ErrValidation)
	}
	if dayIndex < 0 || dayIndex >= models.PlanDays {
		return "", fmt.Errorf("%w: day index %d outside [0,%d]", models.ErrValidation, dayIndex, models.PlanDays-1)
	}

	plant, err := s.store.GetPlant(ctx, plantID)
	if err != nil {
		return "", err
	}
	if plant == nil {
		return "", fmt.Errorf("%w: plant %s", models.ErrNotFound, plantID)
	}
	if _, err := findAction(plant, dayIndex, actionID); err != nil {
		return "", err
	}

	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now().UTC()
	err = s.store.CreateToken(ctx, &models.CompletionToken{
		TokenHash: HashToken(raw),
		PlantID:   plantID,
		OwnerID:   plant.OwnerID,
		DayIndex:  dayIndex,
		ActionID:  actionID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("Completion token issued",
		"plant_id", plantID,
		"day_index", dayIndex,
		"action_id", actionID)
	return raw, nil
}

// Link returns the public URL that redeems raw.
func (s *Service) Link(raw string) string {
	return s.baseURL + RedeemPath + raw
}

// Redeem marks the token's action completed and consumes the token. A token
// that was already used is reported as AlreadyCompleted without changing
// anything. Unknown tokens fail with models.ErrNotFound and expired ones with
// models.ErrTokenExpired.
func (s *Service) Redeem(ctx context.Context, raw string) (*Redemption, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: token is required", models.ErrValidation)
	}

	now := s.now().UTC()
	var (
		action       models.Action
		wasCompleted bool
	)
	plant, tok, err := s.store.RedeemToken(ctx, HashToken(raw), now, func(p *models.Plant, tok *models.CompletionToken) error {
		a, err := findAction(p, tok.DayIndex, tok.ActionID)
		if err != nil {
			return err
		}
		wasCompleted = a.Completed
		if !a.Completed {
			a.Completed = true
			a.CompletedAt = &now
		}
		action = *a
		return nil
	})

	switch {
	case errors.Is(err, models.ErrTokenAlreadyUsed) && plant != nil && tok != nil:
		s.metrics.TokenRedeemed("already_used")
		r := &Redemption{Plant: plant, DayIndex: tok.DayIndex, AlreadyCompleted: true}
		if a, err := findAction(plant, tok.DayIndex, tok.ActionID); err == nil {
			r.Action = *a
		}
		return r, nil
	case errors.Is(err, models.ErrTokenExpired):
		s.metrics.TokenRedeemed("expired")
		return nil, err
	case errors.Is(err, models.ErrNotFound):
		s.metrics.TokenRedeemed("not_found")
		return nil, err
	case err != nil:
		s.metrics.TokenRedeemed("error")
		return nil, err
	}

	s.metrics.TokenRedeemed("completed")
	s.logger.Info("Action completed by link",
		"plant_id", plant.ID,
		"day_index", tok.DayIndex,
		"action_id", tok.ActionID)

	if !wasCompleted {
		notify.Dispatch(ctx, s.notifier, s.logger, plant.OwnerID, notify.Event{
			Type:     notify.EventActionCompleted,
			PlantID:  plant.ID,
			DayIndex: tok.DayIndex,
			ActionID: tok.ActionID,
			Message:  fmt.Sprintf("Done: %s", action.Description),
			At:       now,
		})
	}

	return &Redemption{
		Plant:            plant,
		DayIndex:         tok.DayIndex,
		Action:           action,
		AlreadyCompleted: wasCompleted,
	}, nil
}

func findAction(p *models.Plant, dayIndex int, actionID string) (*models.Action, error) {
	if p.CarePlan == nil {
		return nil, fmt.Errorf("%w: plant %s has no care plan", models.ErrNotFound, p.ID)
	}
	day, err := p.CarePlan.Day(dayIndex)
	if err != nil {
		return nil, err
	}
	a, ok := day.ActionByID(actionID)
	if !ok {
		return nil, fmt.Errorf("%w: action %s on day %d", models.ErrNotFound, actionID, dayIndex)
	}
	return a, nil
}
