// Package dispatch delivers event envelopes to the remote without ever
// blocking the goroutine that produced them.
//
// Queue policy: a bounded channel feeds a fixed pool of workers. Submit never
// waits; when the queue is full (or the dispatcher is closed) the envelope is
// dropped, counted and logged. Failed sends are dropped too. There is no retry
// and nothing survives a restart.
package dispatch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"badgeup.io/relay/internal/event"
	"badgeup.io/relay/internal/protocol"
)

// Sender transmits one envelope. *api.Client satisfies it.
type Sender interface {
	SendEvent(ctx context.Context, env event.Envelope) error
}

type Result string

const (
	Delivered   Result = "delivered"
	Failed      Result = "failed"
	DroppedFull Result = "dropped_full"
	Rejected    Result = "rejected_closed"
)

// Outcome is reported to recorders once per submitted envelope.
type Outcome struct {
	Envelope event.Envelope
	Result   Result
	Code     string
	Err      error
	Latency  time.Duration
	At       time.Time
}

// Recorder observes outcomes. It runs on a worker (or the submitting goroutine
// for drops) and must not block.
type Recorder interface {
	RecordOutcome(Outcome)
}

type Config struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	Logger      *log.Logger
	Recorders   []Recorder
}

type Stats struct {
	Submitted     uint64 `json:"submitted"`
	Delivered     uint64 `json:"delivered"`
	Failed        uint64 `json:"failed"`
	DroppedFull   uint64 `json:"dropped_full"`
	Rejected      uint64 `json:"rejected_closed"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Workers       int    `json:"workers"`
}

type Dispatcher struct {
	cfg    Config
	sender Sender

	ch     chan event.Envelope
	wg     sync.WaitGroup
	mu     sync.RWMutex // guards closed vs. sends on ch
	closed bool
	once   sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	submitted   atomic.Uint64
	delivered   atomic.Uint64
	failed      atomic.Uint64
	droppedFull atomic.Uint64
	rejected    atomic.Uint64
}

func New(sender Sender, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		sender: sender,
		ch:     make(chan event.Envelope, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.worker(id)
		}(i)
	}
	return d
}

// Submit hands env to the worker pool and returns immediately.
func (d *Dispatcher) Submit(env event.Envelope) {
	if d == nil || env.IsZero() {
		return
	}
	d.submitted.Add(1)

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.rejected.Add(1)
		d.record(Outcome{Envelope: env, Result: Rejected, At: time.Now()})
		return
	}
	select {
	case d.ch <- env:
		d.mu.RUnlock()
	default:
		d.mu.RUnlock()
		d.droppedFull.Add(1)
		d.printf("dispatch queue full; drop key=%s subject=%s", env.Key(), env.Subject())
		d.record(Outcome{Envelope: env, Result: DroppedFull, At: time.Now()})
	}
}

// Close stops intake, lets the workers drain what is queued, and waits for
// them. ctx bounds the wait; on expiry in-flight sends are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.ch)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:     d.submitted.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		DroppedFull:   d.droppedFull.Load(),
		Rejected:      d.rejected.Load(),
		QueueDepth:    len(d.ch),
		QueueCapacity: cap(d.ch),
		Workers:       d.cfg.Workers,
	}
}

func (d *Dispatcher) worker(id int) {
	for env := range d.ch {
		d.send(id, env)
	}
}

func (d *Dispatcher) send(id int, env event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.printf("dispatch worker=%d panic key=%s: %v", id, env.Key(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.sender.SendEvent(ctx, env)
	out := Outcome{Envelope: env, Latency: time.Since(start), At: time.Now()}
	if err != nil {
		d.failed.Add(1)
		out.Result = Failed
		out.Err = err
		out.Code = protocol.CodeOf(err)
		d.printf("dispatch failed, drop key=%s subject=%s worker=%d err=%v", env.Key(), env.Subject(), id, err)
	} else {
		d.delivered.Add(1)
		out.Result = Delivered
	}
	d.record(out)
}

func (d *Dispatcher) record(o Outcome) {
	for _, r := range d.cfg.Recorders {
		if r != nil {
			r.RecordOutcome(o)
		}
	}
}

func (d *Dispatcher) printf(format string, args ...any) {
	if d != nil && d.cfg.Logger != nil {
		d.cfg.Logger.Printf(format, args...)
	}
}
