package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rand/guesstimate/internal/memory/embeddings"
)

const rulePrefix = "rule/"

// maxConflictRetries bounds RecordHit retries on transaction conflicts.
const maxConflictRetries = 8

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory.
	InMemory bool

	// SyncWrites fsyncs every write.
	// Default: true
	SyncWrites bool

	Provider embeddings.Provider

	// Logger receives badger's internal logs at debug and above. Nil
	// silences badger.
	Logger *slog.Logger
}

// BadgerStore keeps rules as JSON values in a badger key-value store.
type BadgerStore struct {
	db       *badger.DB
	provider embeddings.Provider
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens the store.
func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("open rule store: path is required for a persistent database")
	}
	if opts.Provider == nil {
		opts.Provider = embeddings.NewHashingProvider(0)
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: opts.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	return &BadgerStore{db: db, provider: opts.Provider}, nil
}

// Append implements Store.
func (s *BadgerStore) Append(ctx context.Context, rule LearnedRule) error {
	if err := prepare(ctx, s.provider, &rule); err != nil {
		return err
	}
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	key := []byte(rulePrefix + rule.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("append rule %s: duplicate id", rule.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("append rule %s: %w", rule.ID, err)
		}
		return txn.Set(key, data)
	})
}

// Search implements Store.
func (s *BadgerStore) Search(ctx context.Context, q Query) ([]Match, error) {
	r, err := newRanker(ctx, s.provider, q)
	if err != nil {
		return nil, err
	}
	err = s.each(func(rule LearnedRule) { r.offer(rule) })
	if err != nil {
		return nil, err
	}
	return r.result(), nil
}

// RecordHit implements Store. Concurrent hits on one rule conflict in
// badger's optimistic transactions; the loser retries.
func (s *BadgerStore) RecordHit(ctx context.Context, id string, at time.Time) error {
	key := []byte(rulePrefix + id)
	for range maxConflictRetries {
		err := s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			var rule LearnedRule
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rule) }); err != nil {
				return err
			}
			rule.UsageCount++
			rule.LastUsed = at
			data, err := json.Marshal(rule)
			if err != nil {
				return err
			}
			return txn.Set(key, data)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("record hit %s: %w", id, ErrRuleNotFound)
		case errors.Is(err, badger.ErrConflict):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		default:
			return fmt.Errorf("record hit %s: %w", id, err)
		}
	}
	return fmt.Errorf("record hit %s: %w", id, badger.ErrConflict)
}

// List implements Lister, newest first.
func (s *BadgerStore) List(_ context.Context, limit int) ([]LearnedRule, error) {
	var out []LearnedRule
	if err := s.each(func(rule LearnedRule) { out = append(out, rule) }); err != nil {
		return nil, err
	}
	slices.SortStableFunc(out, func(a, b LearnedRule) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats implements Lister.
func (s *BadgerStore) Stats(context.Context) (Stats, error) {
	var rules []LearnedRule
	if err := s.each(func(rule LearnedRule) { rules = append(rules, rule) }); err != nil {
		return Stats{}, err
	}
	return tally(rules), nil
}

func (s *BadgerStore) each(fn func(LearnedRule)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: []byte(rulePrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rule LearnedRule
			err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &rule) })
			if err != nil {
				return fmt.Errorf("decode rule %s: %w", it.Item().Key(), err)
			}
			fn(rule)
		}
		return nil
	})
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
