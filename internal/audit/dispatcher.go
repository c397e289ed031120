package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config controls how session events reach the sink.
type Config struct {
	Enabled    bool
	BufferSize int

	// DropIfFull discards events when the buffer is full instead of making
	// the session operation wait. Event types listed in Keep always wait.
	DropIfFull bool
	Keep       []string

	// Replica is stamped on every event so replicas sharing Redis can be
	// told apart in one audit stream.
	Replica string
	Now     func() time.Time
}

// Dispatcher relays session events to a sink on one goroutine, in emission
// order. A nil *Dispatcher is valid and drops everything.
type Dispatcher struct {
	cfg   Config
	sink  Sink
	keep  map[string]struct{}
	queue chan Event
	stop  chan struct{}
	wg    sync.WaitGroup

	closed    atomic.Bool
	closeOnce sync.Once

	dropMu  sync.Mutex
	dropped map[string]uint64
	failed  atomic.Uint64
}

// NewDispatcher starts the relay goroutine. It returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		keep:    make(map[string]struct{}, len(cfg.Keep)),
		queue:   make(chan Event, cfg.BufferSize),
		stop:    make(chan struct{}),
		dropped: make(map[string]uint64),
	}
	for _, t := range cfg.Keep {
		d.keep[t] = struct{}{}
	}

	d.wg.Add(1)
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver hands ev to the sink. A panicking sink loses the event, not the relay.
func (d *Dispatcher) deliver(ev Event) {
	defer func() {
		if recover() != nil {
			d.failed.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues event after stamping its ID, timestamp and replica when unset.
//
// With DropIfFull, a full buffer drops the event unless its type is kept;
// kept events and every event without DropIfFull wait for space until ctx
// is done.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.stamp(&event)

	if _, kept := d.keep[event.EventType]; d.cfg.DropIfFull && !kept {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.drop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event.EventType)
	case <-d.stop:
	}
}

func (d *Dispatcher) stamp(ev *Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.cfg.Now().UTC()
	}
	if ev.Replica == "" {
		ev.Replica = d.cfg.Replica
	}
}

func (d *Dispatcher) drop(eventType string) {
	d.dropMu.Lock()
	d.dropped[eventType]++
	d.dropMu.Unlock()
}

// Close drains queued events into the sink and stops the relay.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped returns how many events never reached the sink queue.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	var n uint64
	for _, c := range d.dropped {
		n += c
	}
	return n
}

// DroppedByType splits Dropped by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	out := map[string]uint64{}
	if d == nil {
		return out
	}
	d.dropMu.Lock()
	defer d.dropMu.Unlock()
	for t, c := range d.dropped {
		out[t] = c
	}
	return out
}

// Failed returns how many events were lost to a panicking sink.
func (d *Dispatcher) Failed() uint64 {
	if d == nil {
		return 0
	}
	return d.failed.Load()
}
