package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/lumaops/provisioner/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements engine.StateTracker using SQLite. Every mutation runs
// in an immediate transaction, so claims on one database file are serialized
// across processes.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
	now  func() time.Time
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// stepColumns maps each workflow step to its completion timestamp column.
var stepColumns = map[engine.Step]string{
	engine.StepProjectCreated:      "project_created_at",
	engine.StepBillingLinked:       "billing_linked_at",
	engine.StepCapabilitiesEnabled: "capabilities_enabled_at",
	engine.StepDatasetCreated:      "dataset_created_at",
	engine.StepManifestUpdated:     "manifest_updated_at",
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
		now:  time.Now,
	}, nil
}

// WithClock replaces the store clock.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		s.path, s.cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if s.path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Get returns the state of a client.
func (s *SQLiteStore) Get(ctx context.Context, clientID string) (*engine.ProvisioningState, error) {
	return getState(ctx, s.db, clientID)
}

// Claim acquires the client claim, creating the state row if absent.
func (s *SQLiteStore) Claim(ctx context.Context, clientID, claimID string, ttl time.Duration) (*engine.ProvisioningState, error) {
	var out *engine.ProvisioningState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()
		st, err := getState(ctx, tx, clientID)
		insert := errors.Is(err, engine.ErrStateNotFound)
		switch {
		case insert:
			st = engine.NewProvisioningState(clientID, now)
		case err != nil:
			return err
		}

		if st.Status == engine.StatusCompleted {
			out = st
			return nil
		}

		prev := st.Version
		if err := applyClaim(st, clientID, claimID, ttl, now); err != nil {
			return err
		}
		if insert {
			err = insertState(ctx, tx, st)
		} else {
			err = updateState(ctx, tx, st, prev, false)
		}
		out = st
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteStep records a step outcome for the claim holder.
func (s *SQLiteStore) WriteStep(ctx context.Context, clientID, claimID string, step engine.Step, outcome engine.StepOutcome, ttl time.Duration) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, false, func(st *engine.ProvisioningState, now time.Time) error {
		return applyWriteStep(st, claimID, step, outcome, ttl, now)
	})
}

// Renew extends the lease of the claim holder.
func (s *SQLiteStore) Renew(ctx context.Context, clientID, claimID string, ttl time.Duration) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, false, func(st *engine.ProvisioningState, now time.Time) error {
		return applyRenew(st, claimID, ttl, now)
	})
}

// Finalize marks the client completed and releases the claim.
func (s *SQLiteStore) Finalize(ctx context.Context, clientID, claimID string) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, false, func(st *engine.ProvisioningState, now time.Time) error {
		return applyFinalize(st, claimID, now)
	})
}

// Reset clears flags from the given step onward. This is the only write that
// may unset a flag column.
func (s *SQLiteStore) Reset(ctx context.Context, clientID string, from engine.Step) (*engine.ProvisioningState, error) {
	return s.mutate(ctx, clientID, true, func(st *engine.ProvisioningState, now time.Time) error {
		return applyReset(st, from, now)
	})
}

// List returns client states, optionally filtered by status.
func (s *SQLiteStore) List(ctx context.Context, status engine.Status) ([]*engine.ProvisioningState, error) {
	query := selectStateSQL
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY client_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisioning state: %w", err)
	}
	defer rows.Close()

	var states []*engine.ProvisioningState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provisioning state: %w", err)
	}

	return states, nil
}

func (s *SQLiteStore) mutate(ctx context.Context, clientID string, overwriteFlags bool, fn func(*engine.ProvisioningState, time.Time) error) (*engine.ProvisioningState, error) {
	var out *engine.ProvisioningState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := getState(ctx, tx, clientID)
		if err != nil {
			return err
		}
		prev := st.Version
		if err := fn(st, s.now()); err != nil {
			return err
		}
		out = st
		return updateState(ctx, tx, st, prev, overwriteFlags)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

var selectStateSQL = `
	SELECT client_id, status, ` + flagColumnList() + `,
		last_error_step, last_error_class, last_error_message, last_error_at,
		claim_id, claim_expires_at, attempts, version, created_at, updated_at
	FROM provisioning_state`

func flagColumnList() string {
	cols := make([]string, 0, len(engine.Steps))
	for _, step := range engine.Steps {
		cols = append(cols, stepColumns[step])
	}
	return strings.Join(cols, ", ")
}

func getState(ctx context.Context, q queryer, clientID string) (*engine.ProvisioningState, error) {
	st, err := scanState(q.QueryRowContext(ctx, selectStateSQL+" WHERE client_id = ?", clientID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrStateNotFound
	}
	return st, err
}

func scanState(row rowScanner) (*engine.ProvisioningState, error) {
	var (
		st        engine.ProvisioningState
		status    string
		flags     = make([]sql.NullInt64, len(engine.Steps))
		errStep   sql.NullString
		errClass  sql.NullString
		errMsg    sql.NullString
		errAt     sql.NullInt64
		claimID   sql.NullString
		claimExp  sql.NullInt64
		createdAt int64
		updatedAt int64
	)

	dest := []interface{}{&st.ClientID, &status}
	for i := range flags {
		dest = append(dest, &flags[i])
	}
	dest = append(dest, &errStep, &errClass, &errMsg, &errAt,
		&claimID, &claimExp, &st.Attempts, &st.Version, &createdAt, &updatedAt)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan provisioning state: %w", err)
	}

	st.Status = engine.Status(status)
	st.Steps = make(map[engine.Step]engine.StepFlag, len(engine.Steps))
	for i, step := range engine.Steps {
		if flags[i].Valid {
			at := fromNanos(flags[i].Int64)
			st.Steps[step] = engine.StepFlag{Done: true, At: &at}
		}
	}
	if errClass.Valid {
		st.LastError = &engine.LastError{
			Step:    engine.Step(errStep.String),
			Class:   engine.ErrorClass(errClass.String),
			Message: errMsg.String,
			At:      fromNanos(errAt.Int64),
		}
	}
	st.ClaimID = claimID.String
	if claimExp.Valid {
		exp := fromNanos(claimExp.Int64)
		st.ClaimExpiresAt = &exp
	}
	st.CreatedAt = fromNanos(createdAt)
	st.UpdatedAt = fromNanos(updatedAt)

	return &st, nil
}

func insertState(ctx context.Context, tx *sql.Tx, st *engine.ProvisioningState) error {
	cols := []string{"client_id", "status"}
	args := []interface{}{st.ClientID, string(st.Status)}
	for _, step := range engine.Steps {
		cols = append(cols, stepColumns[step])
		args = append(args, flagValue(st, step))
	}
	cols = append(cols, "last_error_step", "last_error_class", "last_error_message", "last_error_at",
		"claim_id", "claim_expires_at", "attempts", "version", "created_at", "updated_at")
	args = append(args, lastErrorValues(st)...)
	args = append(args, nullString(st.ClaimID), timePtrValue(st.ClaimExpiresAt),
		st.Attempts, st.Version, st.CreatedAt.UnixNano(), st.UpdatedAt.UnixNano())

	query := fmt.Sprintf("INSERT INTO provisioning_state (%s) VALUES (%s)",
		strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "))

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert provisioning state: %w", err)
	}
	return nil
}

// updateState writes st back if the row is still at prevVersion. Unless
// overwriteFlags is set, a flag column that is already set is kept.
func updateState(ctx context.Context, tx *sql.Tx, st *engine.ProvisioningState, prevVersion int64, overwriteFlags bool) error {
	sets := []string{"status = ?"}
	args := []interface{}{string(st.Status)}
	for _, step := range engine.Steps {
		col := stepColumns[step]
		if overwriteFlags {
			sets = append(sets, col+" = ?")
		} else {
			sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, ?)", col, col))
		}
		args = append(args, flagValue(st, step))
	}
	sets = append(sets,
		"last_error_step = ?", "last_error_class = ?", "last_error_message = ?", "last_error_at = ?",
		"claim_id = ?", "claim_expires_at = ?", "attempts = ?", "version = ?", "updated_at = ?")
	args = append(args, lastErrorValues(st)...)
	args = append(args, nullString(st.ClaimID), timePtrValue(st.ClaimExpiresAt),
		st.Attempts, st.Version, st.UpdatedAt.UnixNano(), st.ClientID, prevVersion)

	query := "UPDATE provisioning_state SET " + strings.Join(sets, ", ") + " WHERE client_id = ? AND version = ?"

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update provisioning state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("provisioning state for %s modified concurrently", st.ClientID)
	}
	return nil
}

func flagValue(st *engine.ProvisioningState, step engine.Step) interface{} {
	flag, ok := st.Steps[step]
	if !ok || !flag.Done {
		return nil
	}
	if flag.At == nil {
		return st.UpdatedAt.UnixNano()
	}
	return flag.At.UnixNano()
}

func lastErrorValues(st *engine.ProvisioningState) []interface{} {
	if st.LastError == nil {
		return []interface{}{nil, nil, nil, nil}
	}
	le := st.LastError
	return []interface{}{string(le.Step), string(le.Class), le.Message, le.At.UnixNano()}
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}

func timePtrValue(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ engine.StateTracker = (*SQLiteStore)(nil)
