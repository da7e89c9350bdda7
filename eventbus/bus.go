// Package eventbus implements the in-process topic pub-sub used to fan out
// benchmark progress. Each topic keeps a bounded ring of recent events so a
// late subscriber can catch up from a cursor; each subscriber has a bounded
// queue with best-effort delivery.
package eventbus

import (
	"fmt"
	"sync"
	"time"
)

const (
	// DefaultRingSize is the per-topic retention used for cursor replay.
	DefaultRingSize = 1024
	// DefaultQueueSize bounds each subscriber queue.
	DefaultQueueSize = 256
)

// Bus is an in-process topic pub-sub. The zero value is not usable; use New.
type Bus struct {
	mu        sync.Mutex
	topics    map[string]*topic
	ringSize  int
	queueSize int
	closed    bool
}

type topic struct {
	name    string
	ring    []Event
	nextSeq uint64
	subs    map[*Subscription]struct{}
}

// New creates a bus with the given per-topic ring retention and
// per-subscriber queue bound. Non-positive values use the defaults.
func New(ringSize, queueSize int) *Bus {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		topics:    make(map[string]*topic),
		ringSize:  ringSize,
		queueSize: queueSize,
	}
}

func (b *Bus) topicLocked(name string) *topic {
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:    name,
			nextSeq: 1,
			subs:    make(map[*Subscription]struct{}),
		}
		b.topics[name] = t
	}
	return t
}

// Publish assigns the next sequence number on the topic and delivers the
// event to every subscriber. It returns the assigned sequence.
func (b *Bus) Publish(topicName string, ev Event) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	t := b.topicLocked(topicName)
	ev.Seq = t.nextSeq
	t.nextSeq++
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	t.ring = append(t.ring, ev)
	if len(t.ring) > b.ringSize {
		t.ring = t.ring[len(t.ring)-b.ringSize:]
	}
	for s := range t.subs {
		s.push(ev)
	}
	return ev.Seq
}

// Subscribe attaches to a topic. Events retained in the ring with sequence
// >= cursor are replayed first; cursor 0 starts at the oldest retained
// event. The returned subscription must be closed by the caller.
func (b *Bus) Subscribe(topicName string, cursor uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("eventbus: closed")
	}
	t := b.topicLocked(topicName)
	s := newSubscription(b, topicName, b.queueSize)
	for _, ev := range t.ring {
		if ev.Seq >= cursor {
			s.push(ev)
		}
	}
	t.subs[s] = struct{}{}
	go s.pump()
	return s, nil
}

// DropTopic discards a topic's retained events and detaches its
// subscribers. Used when a run is garbage collected.
func (b *Bus) DropTopic(topicName string) {
	b.mu.Lock()
	t, ok := b.topics[topicName]
	if ok {
		delete(b.topics, topicName)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	for s := range t.subs {
		s.close()
	}
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*topic)
	b.mu.Unlock()
	for _, t := range topics {
		for s := range t.subs {
			s.close()
		}
	}
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	if t, ok := b.topics[s.topic]; ok {
		delete(t.subs, s)
	}
	b.mu.Unlock()
	s.close()
}

// Subscription is one subscriber's bounded view of a topic. Delivery is
// FIFO per subscriber; when the queue overflows, the oldest non-terminal
// event is dropped and a single lag marker inserted in its place.
type Subscription struct {
	bus   *Bus
	topic string
	max   int

	mu     sync.Mutex
	queue  []Event
	lagged bool

	notify    chan struct{}
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(b *Bus, topicName string, queueSize int) *Subscription {
	return &Subscription{
		bus:    b,
		topic:  topicName,
		max:    queueSize,
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
}

// Events returns the delivery channel. It is closed on Close or bus
// shutdown.
func (s *Subscription) Events() <-chan Event { return s.out }

// Topic returns the subscribed topic name.
func (s *Subscription) Topic() string { return s.topic }

// Close detaches the subscription from the bus.
func (s *Subscription) Close() { s.bus.unsubscribe(s) }

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if len(s.queue) >= s.max {
		s.dropOldestLocked(ev.Time)
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dropOldestLocked removes the oldest non-terminal event. Terminal events
// are kept even if the queue grows past its bound.
func (s *Subscription) dropOldestLocked(now time.Time) {
	for i, ev := range s.queue {
		if ev.Kind.Terminal() || ev.Kind == KindLag {
			continue
		}
		if s.lagged {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
		} else {
			s.lagged = true
			s.queue[i] = Event{Kind: KindLag, Seq: ev.Seq, Time: now}
		}
		return
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var (
			ev Event
			ok bool
		)
		if len(s.queue) > 0 {
			ev, ok = s.queue[0], true
			s.queue = s.queue[1:]
			if ev.Kind == KindLag {
				s.lagged = false
			}
		}
		s.mu.Unlock()

		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
