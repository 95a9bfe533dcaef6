package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/ledger"
)

// State is a subscriber connection's lifecycle position.
type State string

const (
	StateConnected  State = "CONNECTED"
	StateSubscribed State = "SUBSCRIBED"
	StateDraining   State = "DRAINING"
	StateClosed     State = "CLOSED"
)

// ErrClosed is returned by Receive once the subscription is torn down.
var ErrClosed = errors.New("alert: subscription closed")

// LedgerReader is the slice of the ledger the distributor needs for
// replay. Entries are durable before handlers fire, so anything a
// subscriber missed live is always readable here.
type LedgerReader interface {
	ReadRange(ctx context.Context, from, to uint64) ([]ledger.Entry, error)
	Head() (uint64, string)
}

// Metrics receives delivery measurements. The observability provider
// satisfies it; implementations must not block, they are called on the
// fan-out and delivery paths.
type Metrics interface {
	RecordAlert(ctx context.Context, severity contracts.Severity)
	AddQueueDepth(ctx context.Context, delta int64)
}

// Config bounds each subscriber queue.
type Config struct {
	// QueueCapacity is the per-subscriber bound. Zero means 256.
	QueueCapacity int
	// LowWater is the backlog level at which a Draining subscriber
	// catches back up. Zero means QueueCapacity / 4.
	LowWater int
	// Threshold is the minimum severity that produces alerts.
	// Empty means SeverityWarning.
	Threshold contracts.Severity
	// Metrics tracks deliveries and backlog. Nil disables.
	Metrics Metrics
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.LowWater <= 0 {
		c.LowWater = c.QueueCapacity / 4
	}
	if c.Threshold == "" {
		c.Threshold = contracts.SeverityWarning
	}
	return c
}

// Distributor owns all subscriber connections and the fan-out path.
type Distributor struct {
	mu      sync.RWMutex
	subs    map[string]*Subscription
	reader  LedgerReader
	cursors CursorStore
	cfg     Config
	log     *slog.Logger
}

// NewDistributor creates a distributor replaying from reader and
// persisting ack cursors in cursors (nil keeps cursors in memory).
func NewDistributor(reader LedgerReader, cursors CursorStore, cfg Config, log *slog.Logger) *Distributor {
	if log == nil {
		log = slog.Default()
	}
	if cursors == nil {
		cursors = NewMemoryCursors()
	}
	return &Distributor{
		subs:    make(map[string]*Subscription),
		reader:  reader,
		cursors: cursors,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

// Subscription is one subscriber connection with its bounded queue.
//
// Live alerts are accepted only while Subscribed. In every other state
// the offer is refused and the missed flag set, and the catch-up loop
// replays the gap from the ledger before the connection goes (back)
// live. That is what keeps the queue strictly sequence ordered.
type Subscription struct {
	ID string

	dist *Distributor

	mu              sync.Mutex
	state           State
	queue           []Alert
	highestEnqueued uint64
	missed          bool
	notify          chan struct{}
}

// HandleEntry is the ledger append handler: derive an alert and offer it
// to every subscriber. Never blocks; a full queue flips the subscriber
// to Draining instead.
func (d *Distributor) HandleEntry(entry ledger.Entry) {
	a, ok := FromEntry(entry, d.cfg.Threshold)
	if !ok {
		return
	}

	d.mu.RLock()
	subs := make([]*Subscription, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.RUnlock()

	for _, s := range subs {
		s.offer(a, d.cfg.QueueCapacity)
	}
}

// Subscribe registers (or replaces) a subscriber and replays every alert
// with sequence > since from the ledger. since == 0 falls back to the
// subscriber's persisted ack cursor, so a reconnecting client that lost
// local state still resumes where it acknowledged.
func (d *Distributor) Subscribe(ctx context.Context, id string, since uint64) (*Subscription, error) {
	if since == 0 {
		if cur, err := d.cursors.Get(ctx, id); err == nil {
			since = cur
		}
	}

	s := &Subscription{
		ID:              id,
		dist:            d,
		state:           StateConnected,
		notify:          make(chan struct{}, 1),
		highestEnqueued: since,
	}

	d.mu.Lock()
	if prev, ok := d.subs[id]; ok {
		prev.close()
	}
	d.subs[id] = s
	d.mu.Unlock()

	if err := d.catchUp(ctx, s); err != nil {
		d.Unsubscribe(id)
		return nil, fmt.Errorf("alert: replay for %s failed: %w", id, err)
	}

	d.log.Info("subscriber attached", "subscriber", id, "since", since)
	return s, nil
}

// Unsubscribe tears the connection down. Safe at any time; ledger and
// validator state are unaffected.
func (d *Distributor) Unsubscribe(id string) {
	d.mu.Lock()
	s, ok := d.subs[id]
	if ok {
		delete(d.subs, id)
	}
	d.mu.Unlock()
	if ok {
		s.close()
		d.log.Info("subscriber detached", "subscriber", id)
	}
}

// Ack records that the subscriber has durably consumed everything up to
// and including seq, shrinking the redelivery window on reconnect.
func (d *Distributor) Ack(ctx context.Context, id string, seq uint64) error {
	return d.cursors.Set(ctx, id, seq)
}

// SubscriberState reports a connection's state, or Closed if unknown.
func (d *Distributor) SubscriberState(id string) State {
	d.mu.RLock()
	s, ok := d.subs[id]
	d.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return s.State()
}

// catchUp replays the subscriber's gap from the ledger until it is
// caught up, then flips it to Subscribed. Live offers refused during
// replay set the missed flag, which sends us around again; offers
// arrive in sequence order, so once a replay pass completes with
// nothing missed the connection can go live without reordering.
func (d *Distributor) catchUp(ctx context.Context, s *Subscription) error {
	for {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return nil
		}
		s.missed = false
		s.mu.Unlock()

		full, err := d.replay(ctx, s)
		if err != nil {
			return err
		}

		s.mu.Lock()
		switch {
		case s.state == StateClosed:
		case full:
			s.state = StateDraining
		case s.missed:
			s.mu.Unlock()
			continue
		default:
			s.state = StateSubscribed
		}
		s.mu.Unlock()
		return nil
	}
}

// replay enqueues alerts for persisted entries after s.highestEnqueued.
// Returns full=true when the queue bound was hit before the head.
func (d *Distributor) replay(ctx context.Context, s *Subscription) (bool, error) {
	head, _ := d.reader.Head()
	s.mu.Lock()
	from := s.highestEnqueued + 1
	s.mu.Unlock()
	if from > head {
		return false, nil
	}

	entries, err := d.reader.ReadRange(ctx, from, head)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		a, ok := FromEntry(e, d.cfg.Threshold)
		if !ok {
			s.mu.Lock()
			if e.Sequence > s.highestEnqueued {
				s.highestEnqueued = e.Sequence
			}
			s.mu.Unlock()
			continue
		}
		if !s.enqueue(a, d.cfg.QueueCapacity) {
			return true, nil
		}
	}
	return false, nil
}

// resync is the Draining recovery path, entered from Receive when the
// backlog crosses the low-water mark.
func (d *Distributor) resync(s *Subscription) {
	if err := d.catchUp(context.Background(), s); err != nil {
		d.log.Warn("resync failed", "subscriber", s.ID, "error", err)
	}
}

// offer is the live path. Only a Subscribed connection accepts; every
// refusal marks the gap so catch-up knows to replay it.
func (s *Subscription) offer(a Alert, capacity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return false
	case StateConnected, StateDraining:
		s.missed = true
		return false
	}
	if a.Sequence <= s.highestEnqueued {
		return true
	}
	if len(s.queue) >= capacity {
		s.state = StateDraining
		s.missed = true
		return false
	}
	s.push(a)
	return true
}

// enqueue is the replay path. It accepts in any live state but still
// honors the queue bound.
func (s *Subscription) enqueue(a Alert, capacity int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return false
	}
	if a.Sequence <= s.highestEnqueued {
		return true
	}
	if len(s.queue) >= capacity {
		return false
	}
	s.push(a)
	return true
}

// push appends and wakes the consumer. Caller holds s.mu.
func (s *Subscription) push(a Alert) {
	s.queue = append(s.queue, a)
	s.highestEnqueued = a.Sequence
	if m := s.dist.cfg.Metrics; m != nil {
		m.AddQueueDepth(context.Background(), 1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Receive blocks until an alert is available, the context is cancelled,
// or the subscription closes. Crossing the low-water mark while Draining
// triggers a ledger resync before the alert is returned.
func (s *Subscription) Receive(ctx context.Context) (Alert, error) {
	for {
		s.mu.Lock()
		if s.state == StateClosed {
			s.mu.Unlock()
			return Alert{}, ErrClosed
		}
		if len(s.queue) > 0 {
			a := s.queue[0]
			s.queue = s.queue[1:]
			needResync := s.state == StateDraining && len(s.queue) <= s.dist.cfg.LowWater
			s.mu.Unlock()
			if m := s.dist.cfg.Metrics; m != nil {
				m.AddQueueDepth(ctx, -1)
				m.RecordAlert(ctx, a.Severity)
			}
			if needResync {
				s.dist.resync(s)
			}
			return a, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Alert{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// State returns the connection's current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backlog returns the number of queued, undelivered alerts.
func (s *Subscription) Backlog() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.state = StateClosed
	dropped := len(s.queue)
	s.queue = nil
	s.mu.Unlock()
	if m := s.dist.cfg.Metrics; m != nil && dropped > 0 {
		m.AddQueueDepth(context.Background(), int64(-dropped))
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
