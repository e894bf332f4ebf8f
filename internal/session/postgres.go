package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/raaihank/pii-veil/internal/logger"
)

// PostgresConfig contains database configuration
type PostgresConfig struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	TTL             time.Duration
}

// PostgresStore keeps sessions in a table with JSONB mapping and custom-word columns
type PostgresStore struct {
	db     *sqlx.DB
	ttl    time.Duration
	logger *zap.Logger
}

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS veil_sessions (
	id           TEXT PRIMARY KEY,
	source_text  TEXT NOT NULL DEFAULT '',
	masked_text  TEXT NOT NULL DEFAULT '',
	mappings     JSONB NOT NULL DEFAULT '[]',
	custom_words JSONB NOT NULL DEFAULT '[]',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// sessionRow is the database shape of a Session
type sessionRow struct {
	ID          string    `db:"id"`
	SourceText  string    `db:"source_text"`
	MaskedText  string    `db:"masked_text"`
	Mappings    []byte    `db:"mappings"`
	CustomWords []byte    `db:"custom_words"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// NewPostgresStore connects to PostgreSQL and creates the sessions table
func NewPostgresStore(config PostgresConfig, log *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &PostgresStore{db: db, ttl: config.TTL, logger: log}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Info("PostgreSQL session store initialized",
		zap.String("database_url", logger.RedactURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

func (p *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var row sessionRow
	query := `SELECT id, source_text, masked_text, mappings, custom_words, updated_at
		FROM veil_sessions WHERE id = $1`

	if err := p.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if p.ttl > 0 && time.Since(row.UpdatedAt) > p.ttl {
		return nil, ErrNotFound
	}

	s := &Session{
		ID:         row.ID,
		SourceText: row.SourceText,
		MaskedText: row.MaskedText,
		UpdatedAt:  row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Mappings, &s.Mappings); err != nil {
		return nil, fmt.Errorf("failed to decode mappings: %w", err)
	}
	if err := json.Unmarshal(row.CustomWords, &s.CustomWords); err != nil {
		return nil, fmt.Errorf("failed to decode custom words: %w", err)
	}
	s.normalize()

	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s *Session) error {
	c := s.clone()
	c.normalize()

	mappings, err := json.Marshal(c.Mappings)
	if err != nil {
		return fmt.Errorf("failed to encode mappings: %w", err)
	}
	words, err := json.Marshal(c.CustomWords)
	if err != nil {
		return fmt.Errorf("failed to encode custom words: %w", err)
	}

	query := `
		INSERT INTO veil_sessions (id, source_text, masked_text, mappings, custom_words, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			source_text = EXCLUDED.source_text,
			masked_text = EXCLUDED.masked_text,
			mappings = EXCLUDED.mappings,
			custom_words = EXCLUDED.custom_words,
			updated_at = EXCLUDED.updated_at`

	if _, err := p.db.ExecContext(ctx, query, c.ID, c.SourceText, c.MaskedText, string(mappings), string(words), c.UpdatedAt); err != nil {
		p.logger.Error("Failed to save session", zap.String("session_id", c.ID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}

	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM veil_sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions older than the ttl and returns how many were removed
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	if p.ttl <= 0 {
		return 0, nil
	}

	res, err := p.db.ExecContext(ctx, `DELETE FROM veil_sessions WHERE updated_at < $1`, time.Now().Add(-p.ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
