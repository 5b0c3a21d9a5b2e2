// Package indexdb keeps a queryable SQLite index of dispatch outcomes. It is
// secondary: writes are best effort and never stall the dispatcher.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"badgeup.io/relay/internal/dispatch"
)

type SQLiteIndex struct {
	db     *sql.DB
	logger *log.Logger

	ch   chan outcomeRow
	wg   sync.WaitGroup
	once sync.Once
	mu   sync.RWMutex

	closed  bool
	skipped atomic.Uint64
}

type outcomeRow struct {
	At        string
	Result    string
	Code      string
	Key       string
	Subject   string
	LatencyMS int64
	Error     string
}

// Summary is an aggregate view over indexed outcomes.
type Summary struct {
	ByResult map[string]int64 `json:"by_result"`
	ByKey    map[string]int64 `json:"by_key"`
	Last     string           `json:"last,omitempty"`
}

// Row is one indexed outcome.
type Row struct {
	At        time.Time `json:"at"`
	Result    string    `json:"result"`
	Code      string    `json:"code,omitempty"`
	Key       string    `json:"key"`
	Subject   string    `json:"subject"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// PathFor is where the relay keeps its index under dataDir.
func PathFor(dataDir string) string {
	return filepath.Join(dataDir, "index", "outcomes.sqlite")
}

func OpenSQLite(path string, logger *log.Logger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:     db,
		logger: logger,
		ch:     make(chan outcomeRow, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			result TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			event_key TEXT NOT NULL,
			subject TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_subject_at ON outcomes(subject, at);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_result ON outcomes(result);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains queued rows, commits, and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordOutcome implements dispatch.Recorder.
func (s *SQLiteIndex) RecordOutcome(o dispatch.Outcome) {
	if s == nil {
		return
	}
	r := outcomeRow{
		At:        o.At.UTC().Format(time.RFC3339Nano),
		Result:    string(o.Result),
		Code:      o.Code,
		Key:       o.Envelope.Key(),
		Subject:   o.Envelope.Subject().String(),
		LatencyMS: o.Latency.Milliseconds(),
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; the drop journal keeps failures.
		s.skipped.Add(1)
	}
}

// Skipped counts outcomes not indexed because the writer fell behind.
func (s *SQLiteIndex) Skipped() uint64 { return s.skipped.Load() }

// Summarize aggregates everything indexed so far.
func (s *SQLiteIndex) Summarize(ctx context.Context) (Summary, error) {
	sum := Summary{ByResult: map[string]int64{}, ByKey: map[string]int64{}}
	if err := s.countBy(ctx, "result", sum.ByResult); err != nil {
		return Summary{}, err
	}
	if err := s.countBy(ctx, "event_key", sum.ByKey); err != nil {
		return Summary{}, err
	}
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(at) FROM outcomes`).Scan(&last); err != nil {
		return Summary{}, err
	}
	sum.Last = last.String
	return sum, nil
}

func (s *SQLiteIndex) countBy(ctx context.Context, col string, into map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+col+`, COUNT(*) FROM outcomes GROUP BY `+col)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int64
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		into[k] = n
	}
	return rows.Err()
}

// Recent returns up to limit outcomes for subject, newest first. An empty
// subject matches every subject.
func (s *SQLiteIndex) Recent(ctx context.Context, subject string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT at,result,code,event_key,subject,latency_ms,error FROM outcomes
		WHERE (?1 = '' OR subject = ?1)
		ORDER BY id DESC LIMIT ?2`, subject, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		var at string
		if err := rows.Scan(&at, &r.Result, &r.Code, &r.Key, &r.Subject, &r.LatencyMS, &r.Error); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT INTO outcomes(at,result,code,event_key,subject,latency_ms,error) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		s.printf("indexdb: prepare: %v", err)
		for range s.ch {
			s.skipped.Add(1)
		}
		return
	}
	defer insert.Close()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 500
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.printf("indexdb: begin: %v", err)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.printf("indexdb: commit: %v", err)
		}
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.skipped.Add(1)
			continue
		}
		if _, err := tx.Stmt(insert).Exec(r.At, r.Result, r.Code, r.Key, r.Subject, r.LatencyMS, r.Error); err != nil {
			s.printf("indexdb: insert: %v", err)
			_ = tx.Rollback()
			tx = nil
			continue
		}
		opCount++
		// Batch while a backlog exists; commit as soon as it is drained.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func (s *SQLiteIndex) printf(format string, args ...any) {
	if s != nil && s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
