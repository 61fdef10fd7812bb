package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS anonymization_audit (
	id          BIGSERIAL PRIMARY KEY,
	sequence    BIGINT NOT NULL UNIQUE,
	session_id  TEXT NOT NULL,
	request_id  TEXT NOT NULL,
	operation   TEXT NOT NULL,
	total_count INTEGER NOT NULL,
	counts      JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	prev_hash   TEXT NOT NULL,
	hash        TEXT NOT NULL
)`

// PostgresStore persists the audit chain in PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore connects, configures the pool and creates the table.
func NewPostgresStore(cfg config.AuditConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &PostgresStore{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// maxRecordAttempts bounds retries of a chain append that lost a
// serialization race to a concurrent writer.
const maxRecordAttempts = 10

// Record appends e. The previous link is read inside a serializable
// transaction so concurrent writers cannot fork the chain; a transaction
// that loses the race is retried against the new chain head.
func (s *PostgresStore) Record(ctx context.Context, e *Event) error {
	var err error
	for attempt := 1; attempt <= maxRecordAttempts; attempt++ {
		err = s.append(ctx, e)
		if !isSerializationFailure(err) {
			return err
		}
		s.logger.Debug("Audit append conflicted, retrying",
			zap.Int("attempt", attempt),
			zap.String("operation", string(e.Operation)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("audit append gave up after %d attempts: %w", maxRecordAttempts, err)
}

// isSerializationFailure reports a serializable-isolation abort or a lost
// race on the unique sequence column.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "23505"
}

func (s *PostgresStore) append(ctx context.Context, e *Event) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	var prev *Event
	var last Event
	err = tx.GetContext(ctx, &last, `SELECT * FROM anonymization_audit ORDER BY sequence DESC LIMIT 1`)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read last audit event: %w", err)
	default:
		prev = &last
	}

	e.chain(prev)

	query := `
		INSERT INTO anonymization_audit
			(sequence, session_id, request_id, operation, total_count, counts, created_at, prev_hash, hash)
		VALUES
			(:sequence, :session_id, :request_id, :operation, :total_count, :counts, :created_at, :prev_hash, :hash)
		RETURNING id`
	stmt, err := tx.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &e.ID, e); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit event: %w", err)
	}

	s.logger.Debug("Audit event recorded",
		zap.Int64("sequence", e.Sequence),
		zap.String("operation", string(e.Operation)),
		zap.String("session_id", e.SessionID))
	return nil
}

// List returns up to limit events in sequence order, starting after
// afterSequence.
func (s *PostgresStore) List(ctx context.Context, afterSequence int64, limit int) ([]*Event, error) {
	var events []*Event
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM anonymization_audit WHERE sequence > $1 ORDER BY sequence ASC LIMIT $2`,
		afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	return events, nil
}

// Verify walks the whole chain in pages.
func (s *PostgresStore) Verify(ctx context.Context) error {
	const pageSize = 1000
	var all []*Event
	var after int64
	for {
		page, err := s.List(ctx, after, pageSize)
		if err != nil {
			return err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].Sequence
	}
	return VerifyChain(all)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password of a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon < 0 || colon == strings.Index(userPart, "://") {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}

// New returns the recorder selected by cfg.
func New(cfg config.AuditConfig, logger *zap.Logger) (Recorder, error) {
	if !cfg.Enabled {
		return NopRecorder{}, nil
	}
	return NewPostgresStore(cfg, logger)
}
