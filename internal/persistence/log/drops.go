package log

import (
	"encoding/json"
	stdlog "log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"badgeup.io/relay/internal/dispatch"
)

// DropRecord is one journaled envelope that never reached the remote.
type DropRecord struct {
	At       time.Time       `json:"at"`
	Result   string          `json:"result"`
	Code     string          `json:"code,omitempty"`
	Error    string          `json:"error,omitempty"`
	Key      string          `json:"key"`
	Subject  string          `json:"subject"`
	Envelope json.RawMessage `json:"envelope"`
}

// DropJournal records every non-delivered dispatch outcome. It is an audit
// trail only; nothing replays it.
type DropJournal struct {
	w      *JSONLZstdWriter
	logger *stdlog.Logger

	ch        chan DropRecord
	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	written atomic.Uint64
	lost    atomic.Uint64
}

func DropsDir(dataDir string) string { return filepath.Join(dataDir, "drops") }

func NewDropJournal(dataDir string, queue int, logger *stdlog.Logger) *DropJournal {
	if queue <= 0 {
		queue = 1024
	}
	j := &DropJournal{
		w:      NewJSONLZstdWriter(DropsDir(dataDir), "drops"),
		logger: logger,
		ch:     make(chan DropRecord, queue),
	}
	j.wg.Add(1)
	go j.loop()
	return j
}

// RecordOutcome implements dispatch.Recorder. It never blocks; when the
// journal backlog is full the record is lost and counted.
func (j *DropJournal) RecordOutcome(o dispatch.Outcome) {
	if j == nil || o.Result == dispatch.Delivered {
		return
	}
	rec := DropRecord{
		At:      o.At.UTC(),
		Result:  string(o.Result),
		Code:    o.Code,
		Key:     o.Envelope.Key(),
		Subject: o.Envelope.Subject().String(),
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if b, err := o.Envelope.MarshalJSON(); err == nil {
		rec.Envelope = b
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		j.lost.Add(1)
		return
	}
	select {
	case j.ch <- rec:
	default:
		j.lost.Add(1)
	}
}

func (j *DropJournal) loop() {
	defer j.wg.Done()
	for rec := range j.ch {
		if err := j.w.Write(rec); err != nil {
			j.lost.Add(1)
			j.printf("drop journal write failed: %v", err)
			continue
		}
		j.written.Add(1)
	}
}

// Written and Lost report journal counters.
func (j *DropJournal) Written() uint64 { return j.written.Load() }
func (j *DropJournal) Lost() uint64    { return j.lost.Load() }

// Close flushes pending records and closes the current file.
func (j *DropJournal) Close() error {
	if j == nil {
		return nil
	}
	j.closeOnce.Do(func() {
		j.mu.Lock()
		j.closed = true
		close(j.ch)
		j.mu.Unlock()
	})
	j.wg.Wait()
	return j.w.Close()
}

func (j *DropJournal) printf(format string, args ...any) {
	if j != nil && j.logger != nil {
		j.logger.Printf(format, args...)
	}
}

// ReadDrops streams journaled drops under dataDir, oldest first.
func ReadDrops(dataDir string, fn func(DropRecord) error) error {
	return ReadJSONL(DropsDir(dataDir), "drops", func(line []byte) error {
		var rec DropRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		return fn(rec)
	})
}
