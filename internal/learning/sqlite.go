package learning

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pressly/goose/v3"

	"github.com/rand/guesstimate/internal/memory/embeddings"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps rules in a SQLite database. Similarity search is a
// brute-force scan over stored embeddings.
type SQLiteStore struct {
	db       *sql.DB
	path     string
	provider embeddings.Provider
	logger   *slog.Logger
}

// SQLiteOptions configures a SQLiteStore.
type SQLiteOptions struct {
	// Path to the database file. Empty uses a private in-memory database.
	Path     string
	Provider embeddings.Provider
	Logger   *slog.Logger
}

// OpenSQLite opens the store and applies pending migrations.
func OpenSQLite(ctx context.Context, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.Provider == nil {
		opts.Provider = embeddings.NewHashingProvider(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dsn := "file::memory:"
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + opts.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	if opts.Path == "" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping rule store: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, path: opts.Path, provider: opts.Provider, logger: opts.Logger}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, rule LearnedRule) error {
	if err := prepare(ctx, s.provider, &rule); err != nil {
		return err
	}
	vector := rule.Embedding
	rule.Embedding = nil
	payload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, normalized, domain, tier_origin, payload, embedding, usage_count, last_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.Normalized, rule.Context.Domain, int(rule.TierOrigin), string(payload),
		vector.ToBytes(), rule.UsageCount, unixNano(rule.LastUsed), rule.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Search implements Store.
func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]Match, error) {
	r, err := newRanker(ctx, s.provider, q)
	if err != nil {
		return nil, err
	}
	rules, err := s.query(ctx, `SELECT payload, embedding, usage_count, last_used FROM rules`)
	if err != nil {
		return nil, err
	}
	for _, rule := range rules {
		r.offer(rule)
	}
	return r.result(), nil
}

// RecordHit implements Store.
func (s *SQLiteStore) RecordHit(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`,
		at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("record hit %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record hit %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("record hit %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

// List implements Lister, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]LearnedRule, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT payload, embedding, usage_count, last_used FROM rules ORDER BY created_at DESC LIMIT ?`, limit)
}

// Stats implements Lister.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	rules, err := s.query(ctx, `SELECT payload, embedding, usage_count, last_used FROM rules`)
	if err != nil {
		return Stats{}, err
	}
	return tally(rules), nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]LearnedRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var out []LearnedRule
	for rows.Next() {
		var (
			payload  string
			vector   []byte
			usage    int64
			lastUsed int64
		)
		if err := rows.Scan(&payload, &vector, &usage, &lastUsed); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		var rule LearnedRule
		if err := json.Unmarshal([]byte(payload), &rule); err != nil {
			s.logger.Warn("skipping undecodable rule", "error", err)
			continue
		}
		rule.Embedding = embeddings.VectorFromBytes(vector)
		rule.UsageCount = usage
		if lastUsed > 0 {
			rule.LastUsed = time.Unix(0, lastUsed)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

// Path returns the database file path, empty for in-memory stores.
func (s *SQLiteStore) Path() string { return s.path }

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
