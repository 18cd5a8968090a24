// Package hub provides a multi-channel publish/subscribe bus for pipeline
// events. Subscribers get bounded queues with drop-oldest overflow so a
// slow consumer can never backpressure into a publisher, and a heartbeat
// task evicts subscribers that stop acknowledging liveness probes.
package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known channel names.
const (
	ChannelStatus = "status"
	ChannelLogs   = "logs"
	ChannelTeams  = "teams"
	ChannelGM     = "gm"
)

const (
	// DefaultQueueSize bounds each subscription's event queue.
	DefaultQueueSize = 256
	// DefaultHeartbeatInterval is how often liveness probes are sent.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultPongDeadline is how long a subscriber has to acknowledge.
	DefaultPongDeadline = 10 * time.Second
)

// Hub is a thread-safe multi-channel event bus.
type Hub struct {
	mu       sync.RWMutex
	channels map[string][]*Subscription
	nextID   uint64
	closed   bool

	queueSize         int
	heartbeatInterval time.Duration
	pongDeadline      time.Duration

	droppedCount atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// Subscription is one subscriber's bounded view of a channel. Consumers
// read from Events and must call Pong when a ping event arrives.
type Subscription struct {
	id      uint64
	channel string
	hub     *Hub

	mu     sync.Mutex
	queue  chan Event
	closed bool
	ponged atomic.Bool
}

// New creates a Hub with default queue size and heartbeat timing and
// starts the heartbeat task.
func New() *Hub {
	return newHub(DefaultQueueSize, DefaultHeartbeatInterval, DefaultPongDeadline)
}

func newHub(queueSize int, heartbeatInterval, pongDeadline time.Duration) *Hub {
	h := &Hub{
		channels:          make(map[string][]*Subscription),
		queueSize:         queueSize,
		heartbeatInterval: heartbeatInterval,
		pongDeadline:      pongDeadline,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	go h.heartbeatLoop()
	return h
}

// Subscribe registers a new subscription on the named channel.
func (h *Hub) Subscribe(channel string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		id:      h.nextID,
		channel: channel,
		hub:     h,
		queue:   make(chan Event, h.queueSize),
	}
	sub.ponged.Store(true)
	h.channels[channel] = append(h.channels[channel], sub)
	return sub
}

// Publish delivers an event to every subscriber of the channel. It never
// blocks: a full subscriber queue drops its oldest event to make room.
func (h *Hub) Publish(channel string, event Event) {
	h.mu.RLock()
	subs := make([]*Subscription, len(h.channels[channel]))
	copy(subs, h.channels[channel])
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.push(event) {
			h.droppedCount.Add(1)
		}
	}
}

// DroppedCount returns the total number of events dropped to overflow.
func (h *Hub) DroppedCount() uint64 {
	return h.droppedCount.Load()
}

// Unsubscribe removes and closes the subscription. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	subs := h.channels[sub.channel]
	for i, s := range subs {
		if s.id == sub.id {
			h.channels[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	sub.close()
}

// Close stops the heartbeat and closes every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, subs := range h.channels {
		all = append(all, subs...)
	}
	h.channels = make(map[string][]*Subscription)
	h.mu.Unlock()

	close(h.stop)
	<-h.done
	for _, sub := range all {
		sub.close()
	}
}

// heartbeatLoop probes every subscription on a fixed interval and evicts
// the ones that do not acknowledge within the pong deadline.
func (h *Hub) heartbeatLoop() {
	defer close(h.done)

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		var subs []*Subscription
		for _, chanSubs := range h.channels {
			subs = append(subs, chanSubs...)
		}
		h.mu.RUnlock()

		for _, sub := range subs {
			sub.ponged.Store(false)
			sub.push(Ping{})
		}

		select {
		case <-h.stop:
			return
		case <-time.After(h.pongDeadline):
		}

		for _, sub := range subs {
			if !sub.ponged.Load() {
				h.Unsubscribe(sub)
			}
		}
	}
}

// Events returns the subscription's receive channel. It is closed when
// the subscription is closed or evicted.
func (s *Subscription) Events() <-chan Event {
	return s.queue
}

// Channel returns the channel name this subscription is attached to.
func (s *Subscription) Channel() string {
	return s.channel
}

// Pong acknowledges the most recent liveness probe.
func (s *Subscription) Pong() {
	s.ponged.Store(true)
}

// push enqueues an event, dropping the oldest queued event on overflow.
// Reports whether an event was dropped.
func (s *Subscription) push(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.queue <- event:
		return false
	default:
	}

	// Queue full: evict the oldest entry, then retry.
	dropped := false
	select {
	case <-s.queue:
		dropped = true
	default:
	}
	select {
	case s.queue <- event:
	default:
	}
	return dropped
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}
