package whatsapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	cache "github.com/patrickmn/go-cache"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
)

// Store persists session records, the known-numbers list, and the read-only
// admin-numbers list. The credential blob is opaque here: this layer only
// guarantees it round-trips byte for byte.
type Store struct {
	db          *sql.DB
	defaults    Config
	configCache *cache.Cache
}

const configCacheTTL = 15 * time.Second

func NewStore(db *sql.DB, defaults Config) *Store {
	return &Store{
		db:          db,
		defaults:    defaults,
		configCache: cache.New(configCacheTTL, time.Minute),
	}
}

// OpenDB opens the durable store connection. An unreachable store at process
// start is fatal to the caller; this function only surfaces the error.
func OpenDB(ctx context.Context, driver string, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(env.GetEnvIntOrDefault("DATASTORE_MAX_OPEN_CONNS", 10))
	db.SetMaxIdleConns(env.GetEnvIntOrDefault("DATASTORE_MAX_IDLE_CONNS", 5))
	db.SetConnMaxLifetime(env.GetEnvDurationOrDefault("DATASTORE_CONN_MAX_LIFETIME", 30*time.Minute))
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NormalizeDatastoreDriver maps the accepted spellings onto the registered
// pgx stdlib driver name.
func NormalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	default:
		return strings.ToLower(driver)
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS bot_sessions (
			number TEXT PRIMARY KEY,
			credentials JSONB NOT NULL DEFAULT '{}',
			config JSONB,
			last_active TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bot_known_numbers (
			number TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bot_admin_numbers (
			number TEXT PRIMARY KEY
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Restore looks up the persisted credential blob. Absence is not an error:
// it returns (nil, nil) and the caller treats the number as unpaired.
func (s *Store) Restore(ctx context.Context, number string) (json.RawMessage, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT credentials FROM bot_sessions WHERE number = $1
	`, number).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(blob), nil
}

// Save upserts the credential blob and refreshes both timestamps.
func (s *Store) Save(ctx context.Context, number string, credentials json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_sessions (number, credentials, last_active, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (number) DO UPDATE
		SET credentials = EXCLUDED.credentials, last_active = NOW(), updated_at = NOW()
	`, number, []byte(credentials))
	return err
}

// Delete removes the persisted record; no error when absent.
func (s *Store) Delete(ctx context.Context, number string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bot_sessions WHERE number = $1`, number)
	if err == nil {
		s.configCache.Delete(number)
	}
	return err
}

// LoadConfig returns the per-number configuration, or a copy of the defaults
// when the number has none. Store errors degrade to the defaults as well so
// a flaky database never takes a live session down.
func (s *Store) LoadConfig(ctx context.Context, number string) Config {
	if v, found := s.configCache.Get(number); found {
		return v.(Config).Clone()
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT config FROM bot_sessions WHERE number = $1
	`, number).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		log.Session(number).WithError(err).Error("Failed to load session config, using defaults")
	}
	if err != nil || len(raw) == 0 {
		return s.defaults.Clone()
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		log.Session(number).WithError(err).Error("Stored session config is unreadable, using defaults")
		return s.defaults.Clone()
	}
	cfg = s.withDefaults(cfg)

	s.configCache.Set(number, cfg, configCacheTTL)
	return cfg.Clone()
}

func (s *Store) withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = s.defaults.Prefix
	}
	if len(cfg.EmojiPalette) == 0 {
		cfg.EmojiPalette = append([]string(nil), s.defaults.EmojiPalette...)
	}
	return cfg
}

// SaveConfig upserts just the configuration sub-document.
func (s *Store) SaveConfig(ctx context.Context, number string, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO bot_sessions (number, config, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (number) DO UPDATE
		SET config = EXCLUDED.config, updated_at = NOW()
	`, number, raw)
	if err == nil {
		s.configCache.Delete(number)
	}
	return err
}

// AppendKnownNumber records a number in the durable known-numbers list.
// The list is append-only and deduplicated.
func (s *Store) AppendKnownNumber(ctx context.Context, number string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_known_numbers (number) VALUES ($1)
		ON CONFLICT (number) DO NOTHING
	`, number)
	return err
}

func (s *Store) ListKnownNumbers(ctx context.Context) ([]string, error) {
	return s.listNumbers(ctx, `SELECT number FROM bot_known_numbers ORDER BY number`)
}

// ListSessionNumbers returns every number with a persisted session record,
// for the registry rebuild on startup and the bulk reconnect endpoint.
func (s *Store) ListSessionNumbers(ctx context.Context) ([]string, error) {
	return s.listNumbers(ctx, `SELECT number FROM bot_sessions ORDER BY number`)
}

func (s *Store) ListAdminNumbers(ctx context.Context) ([]string, error) {
	return s.listNumbers(ctx, `SELECT number FROM bot_admin_numbers ORDER BY number`)
}

func (s *Store) listNumbers(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []string
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	return numbers, rows.Err()
}
