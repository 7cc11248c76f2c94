package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"resbac/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	keyToken = "token"
	keyUser  = "user"
)

var ErrNoSession = errors.New("no stored session")

// Store is the on-device key-value store.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the SQLite file at path and applies migrations.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if err := migrateDB(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Store opened", zap.String("path", path))
	return &Store{db: db, logger: logger}, nil
}

func migrateDB(db *sqlx.DB, logger *zap.Logger) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to get database instance for migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Debug("Store migrations applied")
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Session is what the sign-in flow leaves behind.
type Session struct {
	Token   string
	Profile models.UserProfile
}

// LoadSession reads the stored token and user profile.
func (s *Store) LoadSession(ctx context.Context) (*Session, error) {
	token, ok, err := s.Get(ctx, keyToken)
	if err != nil {
		return nil, err
	}
	if !ok || token == "" {
		return nil, ErrNoSession
	}
	raw, ok, err := s.Get(ctx, keyUser)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoSession
	}
	var p models.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("stored profile is corrupt: %w: %v", models.ErrMalformedResponse, err)
	}
	return &Session{Token: token, Profile: p}, nil
}

// SaveSession is used by the sign-in command; the tracking core only reads it.
func (s *Store) SaveSession(ctx context.Context, token string, p models.UserProfile) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for k, v := range map[string]string{keyToken: token, keyUser: string(raw)} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			k, v, now); err != nil {
			return fmt.Errorf("failed to write %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// ClearSession removes the stored token and profile.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (?, ?)`, keyToken, keyUser); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
