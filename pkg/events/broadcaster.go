package events

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Publisher is what the pipeline needs from a broadcaster.
type Publisher interface {
	Publish(e ProgressEvent)
}

const defaultBufferSize = 64

// Subscription is one observer's FIFO view of the event stream.
type Subscription struct {
	id        uint64
	sessionID string
	ch        chan ProgressEvent
	closed    bool
}

// Events returns the channel events are delivered on. It is closed on Unsubscribe.
func (s *Subscription) Events() <-chan ProgressEvent {
	return s.ch
}

// SessionID returns the session filter, empty when the subscription sees everything.
func (s *Subscription) SessionID() string {
	return s.sessionID
}

type SubscribeOption func(*Subscription)

// WithSessionFilter restricts a subscription to the events of one session.
func WithSessionFilter(sessionID string) SubscribeOption {
	return func(s *Subscription) { s.sessionID = sessionID }
}

// WithBufferSize overrides the per-subscription buffer.
func WithBufferSize(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.ch = make(chan ProgressEvent, n)
		}
	}
}

// Broadcaster delivers every published event to all matching subscriptions.
// Publish never blocks: an observer whose buffer is full misses the event.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	dropped atomic.Uint64
	log     *zap.Logger
	onDrop  func()
}

type Option func(*Broadcaster)

func WithLogger(l *zap.Logger) Option {
	return func(b *Broadcaster) { b.log = l }
}

// WithDropHook is called once for every event an observer misses.
func WithDropHook(fn func()) Option {
	return func(b *Broadcaster) { b.onDrop = fn }
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		subs: make(map[uint64]*Subscription),
		log:  zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broadcaster) Subscribe(opts ...SubscribeOption) *Subscription {
	sub := &Subscription{ch: make(chan ProgressEvent, defaultBufferSize)}
	for _, o := range opts {
		o(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Calling it twice is safe.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	delete(b.subs, sub.id)
	sub.closed = true
	close(sub.ch)
}

func (b *Broadcaster) Publish(e ProgressEvent) {
	// sends happen under the read lock so Unsubscribe cannot close a channel mid-send
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.sessionID != "" && sub.sessionID != e.SessionID {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
			b.log.Warn("observer buffer full, event dropped",
				zap.Uint64("subscription", sub.id),
				zap.String("session_id", e.SessionID),
				zap.String("stage", e.Stage))
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of open subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes every observer.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.closed = true
		close(sub.ch)
	}
}
