// Package postgres stores trigger event definitions, the administration
// metadata the pipeline consults before accepting an event.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/texasrangers4/act-triggers/internal/domain"
)

var (
	ErrDefinitionNotFound  = domain.ErrDefinitionNotFound
	ErrDuplicateDefinition = errors.New("trigger event definition already exists")
)

//go:embed schema.sql
var schema string

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// defaultListLimit caps ListTriggerEventDefinitions.
const defaultListLimit = 1000

// Store implements worker.AdministrationService using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	clock     func() time.Time
}

// New creates a new PostgreSQL store. A positive opTimeout bounds every
// query issued by the store.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout, clock: time.Now}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// EnsureSchema creates the definitions table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetTriggerEventDefinition returns ErrDefinitionNotFound when (service, event)
// is not registered.
func (s *Store) GetTriggerEventDefinition(ctx context.Context, service, event string) (domain.TriggerEventDefinition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, queryGetDefinition, service, event)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TriggerEventDefinition{}, fmt.Errorf("%s/%s: %w", service, event, ErrDefinitionNotFound)
	}
	if err != nil {
		return domain.TriggerEventDefinition{}, fmt.Errorf("get definition: %w", err)
	}
	return def, nil
}

// ListTriggerEventDefinitions returns definitions ordered by service and event.
func (s *Store) ListTriggerEventDefinitions(ctx context.Context, limit, offset int) ([]domain.TriggerEventDefinition, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDefinitions, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var result []domain.TriggerEventDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan definition: %w", err)
		}
		result = append(result, def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateTriggerEventDefinition registers a new (service, event) pair.
// Returns ErrDuplicateDefinition if the pair already exists.
func (s *Store) CreateTriggerEventDefinition(ctx context.Context, def domain.TriggerEventDefinition) (domain.TriggerEventDefinition, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	now := s.clock().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, queryInsertDefinition,
		def.ID,
		def.Service,
		def.Event,
		pq.Array(modesToStrings(def.AccessModes)),
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.TriggerEventDefinition{}, fmt.Errorf("%s/%s: %w", def.Service, def.Event, ErrDuplicateDefinition)
		}
		return domain.TriggerEventDefinition{}, fmt.Errorf("insert definition: %w", err)
	}
	return def, nil
}

// SetAccessModes replaces the access modes allowed for (service, event).
func (s *Store) SetAccessModes(ctx context.Context, service, event string, modes []domain.AccessMode) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryUpdateDefinitionModes,
		pq.Array(modesToStrings(modes)), s.clock().UTC(), service, event)
	if err != nil {
		return fmt.Errorf("update definition: %w", err)
	}
	return requireAffected(res, service, event)
}

// DeleteTriggerEventDefinition removes (service, event).
func (s *Store) DeleteTriggerEventDefinition(ctx context.Context, service, event string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteDefinition, service, event)
	if err != nil {
		return fmt.Errorf("delete definition: %w", err)
	}
	return requireAffected(res, service, event)
}

func requireAffected(res sql.Result, service, event string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", service, event, ErrDefinitionNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (domain.TriggerEventDefinition, error) {
	var def domain.TriggerEventDefinition
	var modes []string
	err := row.Scan(
		&def.ID,
		&def.Service,
		&def.Event,
		pq.Array(&modes),
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return domain.TriggerEventDefinition{}, err
	}
	def.AccessModes = stringsToModes(modes)
	return def, nil
}

func modesToStrings(modes []domain.AccessMode) []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = string(m)
	}
	return out
}

func stringsToModes(raw []string) []domain.AccessMode {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.AccessMode, len(raw))
	for i, s := range raw {
		out[i] = domain.AccessMode(s)
	}
	return out
}

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
