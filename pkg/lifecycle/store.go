package lifecycle

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
	"github.com/codeready-toolchain/cairn/pkg/retry"
)

//go:embed migrations
var migrationsFS embed.FS

// Retry policy for update_atomic's optimistic-lock contention, per §4.2.
const (
	MaxRetryAttempts = 3
	InitialDelay     = 20 * time.Millisecond
	BackoffFactor    = 2.0
)

// ErrNotFound is returned by Load when no record exists for agent_id.
var ErrNotFound = errors.New("lifecycle record not found")

// Config holds the lifecycle store's Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store is the durable, versioned LifecycleRecord persistence layer.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres, runs embedded migrations, and returns a
// ready-to-use Store, following the teacher's NewClient/runMigrations
// shape minus the ent ORM layer.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open lifecycle database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping lifecycle database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run lifecycle migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenFromDB wraps an already-open *sql.DB (used by tests).
func OpenFromDB(ctx context.Context, db *sql.DB, databaseName string) (*Store, error) {
	if err := runMigrations(db, databaseName); err != nil {
		return nil, fmt.Errorf("run lifecycle migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB, databaseName string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Do not call m.Close(): it would close the shared *sql.DB through
	// the postgres driver. Only the source side needs closing.
	return sourceDriver.Close()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists record with an optimistic version check: a zero Version
// means "create new"; any other value must match the stored version.
// Per §4.2, the ExecContext itself runs under retry.Do: recoverable
// driver errors (dropped connections, timeouts, Postgres's own
// serialization/deadlock conflicts) are retried with backoff, while
// everything else — including the unique-violation/zero-rows signals
// this store uses to detect a version conflict — is not retryable and
// surfaces after exactly one attempt.
func (s *Store) Save(ctx context.Context, record *Record) error {
	var submissionJSON any
	if record.Submission != nil {
		data, err := marshalSubmission(record.Submission)
		if err != nil {
			return cairnerrors.Lifecycle("SAVE_FAILED", "marshal submission", err)
		}
		submissionJSON = data
	}

	if record.Version == 0 {
		err := retry.Do(ctx, retry.DefaultPolicy(), isRetryableDBError, func() error {
			_, execErr := s.db.ExecContext(ctx, `
				INSERT INTO lifecycle_records
					(agent_id, task, priority, state, created_at, state_changed_at, db_path, submission, error, version)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`,
				record.AgentID, record.Task, record.Priority, string(record.State),
				record.CreatedAt, record.StateChangedAt, record.DBPath, submissionJSON, nullString(record.Error),
			)
			return execErr
		})
		if err != nil {
			if isUniqueViolation(err) {
				actual, loadErr := s.currentVersion(ctx, record.AgentID)
				if loadErr != nil {
					actual = 0
				}
				return cairnerrors.VersionConflict(record.AgentID, 0, actual)
			}
			return cairnerrors.Lifecycle("SAVE_FAILED", "insert lifecycle record", err)
		}
		record.Version = 1
		return nil
	}

	var result sql.Result
	err := retry.Do(ctx, retry.DefaultPolicy(), isRetryableDBError, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, `
			UPDATE lifecycle_records
			SET task = $1, priority = $2, state = $3, created_at = $4, state_changed_at = $5,
			    db_path = $6, submission = $7, error = $8, version = version + 1
			WHERE agent_id = $9 AND version = $10`,
			record.Task, record.Priority, string(record.State), record.CreatedAt, record.StateChangedAt,
			record.DBPath, submissionJSON, nullString(record.Error), record.AgentID, record.Version,
		)
		return execErr
	})
	if err != nil {
		return cairnerrors.Lifecycle("SAVE_FAILED", "update lifecycle record", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return cairnerrors.Lifecycle("SAVE_FAILED", "read rows affected", err)
	}
	if rows == 0 {
		actual, loadErr := s.currentVersion(ctx, record.AgentID)
		if loadErr != nil {
			actual = 0
		}
		return cairnerrors.VersionConflict(record.AgentID, record.Version, actual)
	}
	record.Version++
	return nil
}

func (s *Store) currentVersion(ctx context.Context, agentID string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM lifecycle_records WHERE agent_id = $1`, agentID).Scan(&v)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// Load returns the record for agentID, or ErrNotFound.
func (s *Store) Load(ctx context.Context, agentID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, task, priority, state, created_at, state_changed_at, db_path, submission, error, version
		FROM lifecycle_records WHERE agent_id = $1`, agentID)
	return scanRecord(row)
}

// UpdateAtomic performs a read-modify-save loop with bounded retry on
// VersionConflict, per §4.2's retry policy.
func (s *Store) UpdateAtomic(ctx context.Context, agentID string, fn func(*Record) error) (*Record, error) {
	delay := InitialDelay
	var lastErr error

	for attempt := 0; attempt < MaxRetryAttempts; attempt++ {
		record, err := s.Load(ctx, agentID)
		if err != nil {
			return nil, err
		}

		if err := fn(record); err != nil {
			return nil, err
		}

		if err := s.Save(ctx, record); err != nil {
			if cairnerrors.Is(err, cairnerrors.KindVersionConflict) {
				lastErr = err
				slog.Warn("Lifecycle update_atomic retrying after version conflict",
					"agent_id", agentID, "attempt", attempt+1)
				time.Sleep(delay)
				delay = time.Duration(float64(delay) * BackoffFactor)
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, lastErr
}

// ListAll returns every lifecycle record.
func (s *Store) ListAll(ctx context.Context) ([]*Record, error) {
	return s.query(ctx, `
		SELECT agent_id, task, priority, state, created_at, state_changed_at, db_path, submission, error, version
		FROM lifecycle_records ORDER BY created_at ASC`)
}

// ListActive returns records whose state is non-terminal.
func (s *Store) ListActive(ctx context.Context) ([]*Record, error) {
	return s.query(ctx, `
		SELECT agent_id, task, priority, state, created_at, state_changed_at, db_path, submission, error, version
		FROM lifecycle_records
		WHERE state NOT IN ('ACCEPTED', 'REJECTED', 'ERRORED')
		ORDER BY created_at ASC`)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cairnerrors.Lifecycle("QUERY_FAILED", "query lifecycle records", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		record, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Delete removes the record for agentID. Deleting a non-existent
// record is not an error.
func (s *Store) Delete(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM lifecycle_records WHERE agent_id = $1`, agentID)
	if err != nil {
		return cairnerrors.Lifecycle("DELETE_FAILED", "delete lifecycle record", err)
	}
	return nil
}

// CleanupOld removes terminal-state records older than maxAge and
// deletes their on-disk workspace files, per §4.2 / P8.
func (s *Store) CleanupOld(ctx context.Context, maxAge time.Duration, deleteWorkspace func(dbPath string) error) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, db_path FROM lifecycle_records
		WHERE state IN ('ACCEPTED', 'REJECTED', 'ERRORED') AND state_changed_at < $1`, cutoff)
	if err != nil {
		return 0, cairnerrors.Lifecycle("QUERY_FAILED", "query cleanup candidates", err)
	}

	type candidate struct {
		agentID string
		dbPath  string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.agentID, &c.dbPath); err != nil {
			rows.Close()
			return 0, cairnerrors.Lifecycle("QUERY_FAILED", "scan cleanup candidate", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()

	removed := 0
	for _, c := range candidates {
		if deleteWorkspace != nil {
			if err := deleteWorkspace(c.dbPath); err != nil {
				slog.Warn("Failed to delete agent workspace during cleanup", "agent_id", c.agentID, "error", err)
			}
		}
		if err := s.Delete(ctx, c.agentID); err != nil {
			slog.Warn("Failed to delete lifecycle record during cleanup", "agent_id", c.agentID, "error", err)
			continue
		}
		removed++
	}

	return removed, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var r Record
	var stateStr, errStr sql.NullString
	var submissionJSON []byte

	err := row.Scan(&r.AgentID, &r.Task, &r.Priority, &stateStr, &r.CreatedAt, &r.StateChangedAt,
		&r.DBPath, &submissionJSON, &errStr, &r.Version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, cairnerrors.Lifecycle("LOAD_FAILED", "load lifecycle record", err)
	}

	r.State = State(stateStr.String)
	r.Error = errStr.String
	if len(submissionJSON) > 0 {
		sub, err := unmarshalSubmission(submissionJSON)
		if err != nil {
			return nil, cairnerrors.Lifecycle("LOAD_FAILED", "unmarshal submission", err)
		}
		r.Submission = sub
	}
	return &r, nil
}

func scanRows(rows *sql.Rows) (*Record, error) {
	var r Record
	var stateStr, errStr sql.NullString
	var submissionJSON []byte

	err := rows.Scan(&r.AgentID, &r.Task, &r.Priority, &stateStr, &r.CreatedAt, &r.StateChangedAt,
		&r.DBPath, &submissionJSON, &errStr, &r.Version)
	if err != nil {
		return nil, cairnerrors.Lifecycle("LOAD_FAILED", "scan lifecycle record", err)
	}

	r.State = State(stateStr.String)
	r.Error = errStr.String
	if len(submissionJSON) > 0 {
		sub, err := unmarshalSubmission(submissionJSON)
		if err != nil {
			return nil, cairnerrors.Lifecycle("LOAD_FAILED", "unmarshal submission", err)
		}
		r.Submission = sub
	}
	return &r, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	// pgx/stdlib surfaces PostgreSQL error code 23505 through the
	// driver-agnostic error string when *pgconn.PgError isn't unwrapped;
	// matching the SQLSTATE substring keeps this dependency-free of the
	// pgconn package for a single error check.
	return err != nil && containsSQLState(err.Error(), "23505")
}

func containsSQLState(msg, code string) bool {
	for i := 0; i+len(code) <= len(msg); i++ {
		if msg[i:i+len(code)] == code {
			return true
		}
	}
	return false
}

// isRetryableDBError reports whether err is a transient condition worth
// retrying under retry.Do: a dropped or refused connection, a network
// timeout, or one of Postgres's own contention SQLSTATEs (serialization
// failure, deadlock, connection exhaustion). Anything else — including
// the unique-violation and zero-rows-affected signals Save uses to
// detect a genuine version conflict — is left for the caller to handle
// on the first attempt, per §4.2's "retry only recoverable errors" rule.
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, code := range []string{
		"08000", // connection_exception
		"08003", // connection_does_not_exist
		"08006", // connection_failure
		"08001", // sqlclient_unable_to_establish_sqlconnection
		"08004", // sqlserver_rejected_establishment_of_sqlconnection
		"53300", // too_many_connections
		"57P03", // cannot_connect_now
		"40001", // serialization_failure
		"40P01", // deadlock_detected
	} {
		if containsSQLState(msg, code) {
			return true
		}
	}
	return false
}
