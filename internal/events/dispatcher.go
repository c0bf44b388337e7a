package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/auction/internal/store"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Tunables
// ──────────────────────────────────────────────────────────────────────────────

const (
	defaultSubscriberBuffer = 64
	defaultMaxRetries       = 3
	defaultRetryBackoff     = 100 * time.Millisecond
)

// Options configures a Dispatcher. Zero fields take the defaults above.
type Options struct {
	SubscriberBuffer int
	MaxRetries       int
	RetryBackoff     time.Duration
}

// ──────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ──────────────────────────────────────────────────────────────────────────────

// Dispatcher queues events from store commits and delivers them from a single
// goroutine, so every subscriber and sink sees one auction's events in commit
// order. Run() must be called in a dedicated goroutine.
//
// The queue is unbounded: HandleCommit runs under the auction's exclusion
// and must never block on a slow consumer.
type Dispatcher struct {
	log   *slog.Logger
	sinks []Publisher
	opts  Options

	mu     sync.Mutex
	queue  []Event
	wake   chan struct{}
	closed bool

	// subscribers keyed by auction; uuid.Nil receives every auction
	subMu       sync.RWMutex
	subscribers map[uuid.UUID]map[chan Event]struct{}
}

// NewDispatcher creates a Dispatcher delivering to sinks.
func NewDispatcher(log *slog.Logger, opts Options, sinks ...Publisher) *Dispatcher {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	return &Dispatcher{
		log:         log,
		sinks:       sinks,
		opts:        opts,
		wake:        make(chan struct{}, 1),
		subscribers: make(map[uuid.UUID]map[chan Event]struct{}),
	}
}

// HandleCommit is a store.CommitHook. It only appends to the queue.
func (d *Dispatcher) HandleCommit(c *store.Commit) {
	evs := FromCommit(c)
	if len(evs) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("dispatcher closed, events dropped", "auction_id", c.Auction.ID, "count", len(evs))
		return
	}
	d.queue = append(d.queue, evs...)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued, undelivered events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Subscribe registers a listener for one auction, or for all auctions when
// auctionID is uuid.Nil. The returned function unsubscribes and closes the
// channel. A subscriber that falls behind loses its oldest undelivered event.
func (d *Dispatcher) Subscribe(auctionID uuid.UUID) (<-chan Event, func()) {
	ch := make(chan Event, d.opts.SubscriberBuffer)

	d.subMu.Lock()
	set, ok := d.subscribers[auctionID]
	if !ok {
		set = make(map[chan Event]struct{})
		d.subscribers[auctionID] = set
	}
	set[ch] = struct{}{}
	d.subMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.subMu.Lock()
			defer d.subMu.Unlock()
			if set, ok := d.subscribers[auctionID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(d.subscribers, auctionID)
				}
			}
		})
	}
	return ch, unsubscribe
}

// ──────────────────────────────────────────────────────────────────────────────
// Run: delivery loop
// ──────────────────────────────────────────────────────────────────────────────

// Run delivers queued events until ctx is done, then makes one last pass
// over whatever is still queued and closes every subscriber channel.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("event dispatcher started", "sinks", len(d.sinks))
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			d.mu.Unlock()
			d.drain(context.Background())
			d.closeSubscribers()
			d.log.Info("event dispatcher stopped")
			return
		case <-d.wake:
			d.drain(ctx)
		}
	}
}

// drain delivers everything queued, in order. If ctx ends mid-way the
// undelivered tail goes back to the front of the queue for the final pass.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}

		for i, ev := range batch {
			if ctx.Err() != nil {
				d.requeue(batch[i:])
				return
			}
			d.fanOut(ev)
			for _, sink := range d.sinks {
				if !d.deliver(ctx, sink, ev) {
					d.requeue(batch[i:])
					return
				}
			}
		}
	}
}

func (d *Dispatcher) requeue(evs []Event) {
	d.mu.Lock()
	d.queue = append(append([]Event{}, evs...), d.queue...)
	d.mu.Unlock()
}

// fanOut hands ev to in-process subscribers without blocking.
func (d *Dispatcher) fanOut(ev Event) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	for _, key := range []uuid.UUID{ev.AuctionID, uuid.Nil} {
		for ch := range d.subscribers[key] {
			select {
			case ch <- ev:
			default:
				// Subscriber is too slow; make room by dropping its oldest event
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
				d.log.Warn("subscriber lagging, event dropped", "auction_id", ev.AuctionID, "seq", ev.Seq)
			}
		}
	}
}

// deliver publishes ev to one sink, retrying with linear backoff. The next
// event is not attempted until this one succeeds or exhausts its retries.
// It returns false only when ctx ended before the event was handed over.
func (d *Dispatcher) deliver(ctx context.Context, sink Publisher, ev Event) bool {
	var err error
	for attempt := 1; attempt <= d.opts.MaxRetries; attempt++ {
		if err = sink.Publish(ctx, ev); err == nil {
			return true
		}
		if attempt == d.opts.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d.opts.RetryBackoff * time.Duration(attempt)):
		}
	}
	if ctx.Err() != nil {
		return false
	}
	d.log.Error("event delivery failed",
		"auction_id", ev.AuctionID, "seq", ev.Seq, "type", ev.Type, "attempts", d.opts.MaxRetries, "err", err)
	return true
}

func (d *Dispatcher) closeSubscribers() {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	for key, set := range d.subscribers {
		for ch := range set {
			close(ch)
		}
		delete(d.subscribers, key)
	}
}
