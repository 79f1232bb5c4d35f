// Package store provides SQLite-backed persistence for cropcare.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/cropcare/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the cropcare SQLite database. Plants are stored as
// whole JSON documents with a few indexed columns derived from them on every
// write.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations. Instants that are compared in
// queries are stored as unix seconds.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plants (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		plan_updated_at INTEGER,
		doc TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS completion_tokens (
		token_hash TEXT PRIMARY KEY,
		plant_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		day_index INTEGER NOT NULL,
		action_id TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		expires_at INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (plant_id) REFERENCES plants(id)
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		plant_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_plants_owner ON plants(owner_id, active);
	CREATE INDEX IF NOT EXISTS idx_plants_refresh ON plants(active, plan_updated_at);
	CREATE INDEX IF NOT EXISTS idx_tokens_expires ON completion_tokens(expires_at);
	CREATE INDEX IF NOT EXISTS idx_decisions_plant_id ON decisions(plant_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- Plant Operations ---

// CreatePlant inserts a new plant, assigning an ID and timestamps when unset.
func (s *Store) CreatePlant(ctx context.Context, p *models.Plant) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if err := p.Validate(); err != nil {
		return err
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plant: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plants (id, owner_id, active, plan_updated_at, doc, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OwnerID, p.Active, planUpdatedAt(p), string(doc), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plant: %w", err)
	}
	return nil
}

// GetPlant retrieves a plant by ID. Returns nil, nil when absent.
func (s *Store) GetPlant(ctx context.Context, id string) (*models.Plant, error) {
	p, err := getPlant(ctx, s.db, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func getPlant(ctx context.Context, q queryer, id string) (*models.Plant, error) {
	var doc string
	err := q.QueryRowContext(ctx, `SELECT doc FROM plants WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: plant %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query plant: %w", err)
	}
	return decodePlant(doc)
}

func decodePlant(doc string) (*models.Plant, error) {
	var p models.Plant
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode plant: %w", err)
	}
	return &p, nil
}

// PutPlant replaces the stored plant wholesale (last write wins).
func (s *Store) PutPlant(ctx context.Context, p *models.Plant) error {
	return putPlant(ctx, s.db, p)
}

func putPlant(ctx context.Context, q queryer, p *models.Plant) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plant: %w", err)
	}
	result, err := q.ExecContext(ctx,
		`UPDATE plants SET owner_id = ?, active = ?, plan_updated_at = ?, doc = ?, updated_at = ? WHERE id = ?`,
		p.OwnerID, p.Active, planUpdatedAt(p), string(doc), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update plant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: plant %s", models.ErrNotFound, p.ID)
	}
	return nil
}

// UpdatePlant atomically reads a plant, applies fn, validates and writes the
// result in one transaction. Narrow mutations (completion flags, analyses)
// go through here so they never overwrite a concurrent plan replacement with
// a stale copy. If fn returns an error nothing is written.
func (s *Store) UpdatePlant(ctx context.Context, id string, fn func(p *models.Plant) error) (*models.Plant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := getPlant(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := putPlant(ctx, tx, p); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return p, nil
}

// ListPlants returns the active plants of an owner, oldest first.
func (s *Store) ListPlants(ctx context.Context, ownerID string) ([]models.Plant, error) {
	return s.queryPlants(ctx,
		`SELECT doc FROM plants WHERE owner_id = ? AND active = 1 ORDER BY created_at`, ownerID)
}

// ListActivePlants returns every active plant.
func (s *Store) ListActivePlants(ctx context.Context) ([]models.Plant, error) {
	return s.queryPlants(ctx, `SELECT doc FROM plants WHERE active = 1 ORDER BY created_at`)
}

// ListPlantsNeedingRefresh returns active plants with no plan or a plan last
// updated before the cutoff.
func (s *Store) ListPlantsNeedingRefresh(ctx context.Context, before time.Time) ([]models.Plant, error) {
	return s.queryPlants(ctx,
		`SELECT doc FROM plants WHERE active = 1 AND (plan_updated_at IS NULL OR plan_updated_at < ?) ORDER BY plan_updated_at`,
		before.Unix())
}

func (s *Store) queryPlants(ctx context.Context, query string, args ...any) ([]models.Plant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query plants: %w", err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	plants := make([]models.Plant, 0, len(docs))
	for _, doc := range docs {
		p, err := decodePlant(doc)
		if err != nil {
			return nil, err
		}
		plants = append(plants, *p)
	}
	return plants, nil
}

func planUpdatedAt(p *models.Plant) sql.NullInt64 {
	if p.CarePlan == nil || p.CarePlan.LastUpdated.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.CarePlan.LastUpdated.Unix(), Valid: true}
}

// --- Completion Token Operations ---

// CreateToken persists a token record. Only the hash is ever stored.
func (s *Store) CreateToken(ctx context.Context, tok *models.CompletionToken) error {
	if tok.TokenHash == "" || tok.PlantID == "" || tok.ActionID == "" {
		return fmt.Errorf("%w: token hash, plant id and action id are required", models.ErrValidation)
	}
	if tok.DayIndex < 0 || tok.DayIndex >= models.PlanDays {
		return fmt.Errorf("%w: day index %d outside [0,%d]", models.ErrValidation, tok.DayIndex, models.PlanDays-1)
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completion_tokens (token_hash, plant_id, owner_id, day_index, action_id, used, expires_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tok.TokenHash, tok.PlantID, tok.OwnerID, tok.DayIndex, tok.ActionID, tok.Used, tok.ExpiresAt.Unix(), tok.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func getToken(ctx context.Context, q queryer, hash string) (*models.CompletionToken, error) {
	tok := &models.CompletionToken{}
	var expiresAt int64
	err := q.QueryRowContext(ctx,
		`SELECT token_hash, plant_id, owner_id, day_index, action_id, used, expires_at, created_at FROM completion_tokens WHERE token_hash = ?`,
		hash,
	).Scan(&tok.TokenHash, &tok.PlantID, &tok.OwnerID, &tok.DayIndex, &tok.ActionID, &tok.Used, &expiresAt, &tok.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: completion token", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query token: %w", err)
	}
	tok.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return tok, nil
}

// GetToken returns the token with the given hash. A token past its expiry is
// reported as ErrTokenExpired even if it has not been swept yet.
func (s *Store) GetToken(ctx context.Context, hash string, now time.Time) (*models.CompletionToken, error) {
	tok, err := getToken(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if !now.Before(tok.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", models.ErrTokenExpired, tok.ExpiresAt.Format(time.RFC3339))
	}
	return tok, nil
}

// RedeemToken consumes a token in one transaction: apply mutates the
// referenced plant, the plant is written, and the token is marked used. An
// expired token fails with ErrTokenExpired whether or not it was used. A
// live token that is already used returns the current plant and token
// together with ErrTokenAlreadyUsed, without calling apply.
func (s *Store) RedeemToken(ctx context.Context, hash string, now time.Time, apply func(p *models.Plant, tok *models.CompletionToken) error) (*models.Plant, *models.CompletionToken, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	tok, err := getToken(ctx, tx, hash)
	if err != nil {
		return nil, nil, err
	}
	if !now.Before(tok.ExpiresAt) {
		return nil, nil, fmt.Errorf("%w: expired at %s", models.ErrTokenExpired, tok.ExpiresAt.Format(time.RFC3339))
	}
	if tok.Used {
		p, err := getPlant(ctx, tx, tok.PlantID)
		if err != nil {
			return nil, nil, err
		}
		return p, tok, models.ErrTokenAlreadyUsed
	}

	p, err := getPlant(ctx, tx, tok.PlantID)
	if err != nil {
		return nil, nil, err
	}
	if err := apply(p, tok); err != nil {
		return nil, nil, err
	}
	if err := putPlant(ctx, tx, p); err != nil {
		return nil, nil, err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE completion_tokens SET used = 1 WHERE token_hash = ? AND used = 0`, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("mark token used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil, models.ErrTokenAlreadyUsed
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit transaction: %w", err)
	}
	tok.Used = true
	return p, tok, nil
}

// SweepExpiredTokens deletes tokens whose expiry has passed and returns how
// many were removed.
func (s *Store) SweepExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM completion_tokens WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}

// --- Decision Operations ---

// WriteDecision writes an audit record for a state-mutating operation.
func (s *Store) WriteDecision(ctx context.Context, action, inputsHash, outcome, plantID, details string) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		PlantID:    plantID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, action, inputs_hash, outcome, plant_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.InputsHash, rec.Outcome, rec.PlantID, rec.Details, rec.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert decision: %w", err)
	}
	return rec, nil
}

// ListDecisions returns the most recent decisions for a plant, newest first.
// An empty plantID lists across all plants.
func (s *Store) ListDecisions(ctx context.Context, plantID string, limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, action, inputs_hash, outcome, plant_id, details, timestamp FROM decisions`
	var args []any
	if plantID != "" {
		query += ` WHERE plant_id = ?`
		args = append(args, plantID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []models.DecisionRecord
	for rows.Next() {
		var rec models.DecisionRecord
		var pid, details sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Action, &rec.InputsHash, &rec.Outcome, &pid, &details, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		rec.PlantID = pid.String
		rec.Details = details.String
		out = append(out, rec)
	}
	return out, rows.Err()
}
