// Package store is the persistence layer: one SQLite database holding the
// event log, the processing queue, the fact store, category summaries,
// sanitization rules and the access audit log. All components communicate
// only through it, which makes the store the serialization point for the
// concurrency rules it enforces.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quorvex/scribe/internal/sanitize"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width RFC3339 UTC so lexicographic order on stored
// timestamps matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Gate            *sanitize.Gate
	MaxAttempts     int
	DefaultPriority int
	ConfirmBoost    float64
	ShadowThreshold float64
	Similarity      SimilarityPolicy
}

type Engine struct {
	db   *sql.DB
	path string
	gate *sanitize.Gate

	maxAttempts     int
	defaultPriority int
	confirmBoost    float64
	shadowThreshold float64
	similarity      SimilarityPolicy

	mu     sync.Mutex
	catMu  map[string]*sync.Mutex
	catMuG sync.Mutex
}

func NewEngine(dbPath string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	// Pragmas ride in the DSN so every pooled connection gets them; a
	// plain Exec would configure only whichever connection happened to run
	// it, leaving the rest with busy_timeout=0 and instant SQLITE_BUSY
	// failures under concurrent claims. _txlock=immediate makes Begin take
	// the write lock up front, so a read-classify-write transaction is
	// atomic across processes, not just goroutines.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{
		db:              db,
		path:            dbPath,
		gate:            opts.Gate,
		maxAttempts:     opts.MaxAttempts,
		defaultPriority: opts.DefaultPriority,
		confirmBoost:    opts.ConfirmBoost,
		shadowThreshold: opts.ShadowThreshold,
		similarity:      opts.Similarity,
		catMu:           make(map[string]*sync.Mutex),
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = 3
	}
	if e.defaultPriority < 1 || e.defaultPriority > 10 {
		e.defaultPriority = 5
	}
	if e.confirmBoost <= 0 || e.confirmBoost >= 1 {
		e.confirmBoost = 0.15
	}
	if e.shadowThreshold <= 0 {
		e.shadowThreshold = 0.3
	}
	if e.similarity == nil {
		e.similarity = SubjectValuePolicy{}
	}

	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.seedRules(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if e.gate == nil {
		rs, err := e.LoadRules()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		e.gate = sanitize.NewGate(rs)
	}
	return e, nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Gate exposes the sanitization gate the engine writes through.
func (e *Engine) Gate() *sanitize.Gate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gate
}

// ReloadGate swaps in a gate built from a freshly loaded rule set. This is
// the only supported way to change sanitization behavior at runtime.
func (e *Engine) ReloadGate() error {
	rs, err := e.LoadRules()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.gate = sanitize.NewGate(rs)
	e.mu.Unlock()
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// categoryLock returns the mutex serializing merges for one category.
// Merges in different categories proceed fully in parallel.
func (e *Engine) categoryLock(category string) *sync.Mutex {
	e.catMuG.Lock()
	defer e.catMuG.Unlock()
	m, ok := e.catMu[category]
	if !ok {
		m = &sync.Mutex{}
		e.catMu[category] = m
	}
	return m
}
