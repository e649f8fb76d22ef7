// Package liveevents fans usage unit status changes out to the account that
// owns them.
package liveevents

import (
	"errors"
	"strings"
	"sync"
)

const (
	DefaultReplaySize       = 20
	DefaultSubscriberBuffer = 16
)

var (
	ErrHubUnavailable   = errors.New("hub_unavailable")
	ErrInvalidAccountID = errors.New("invalid_account_id")
)

type UnitEvent struct {
	UnitID    string `json:"usage_unit_id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	UpdatedAt string `json:"updated_at"`
}

// Hub keeps one stream per account. A stream exists only while it has
// subscribers; events for accounts nobody watches are dropped.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	replaySize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	replay []UnitEvent
	subs   map[uint64]chan UnitEvent
	nextID uint64
}

type Subscription struct {
	hub       *Hub
	accountID string
	id        uint64
	ch        chan UnitEvent
	once      sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		replaySize:       DefaultReplaySize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish never blocks; a subscriber with a full buffer misses the event.
func (h *Hub) Publish(accountID string, event UnitEvent) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(accountID)
	if key == "" {
		return
	}
	h.mu.RLock()
	st := h.streams[key]
	h.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	st.replay = append(st.replay, event)
	if len(st.replay) > h.replaySize {
		st.replay = st.replay[len(st.replay)-h.replaySize:]
	}
	targets := make([]chan UnitEvent, 0, len(st.subs))
	for _, ch := range st.subs {
		targets = append(targets, ch)
	}
	st.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns the subscription and the events published since the
// stream was opened.
func (h *Hub) Subscribe(accountID string) (*Subscription, []UnitEvent, error) {
	if h == nil {
		return nil, nil, ErrHubUnavailable
	}
	key := strings.TrimSpace(accountID)
	if key == "" {
		return nil, nil, ErrInvalidAccountID
	}

	st := h.ensureStream(key)
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	ch := make(chan UnitEvent, h.subscriberBuffer)
	st.subs[id] = ch
	replay := append([]UnitEvent(nil), st.replay...)
	st.mu.Unlock()

	return &Subscription{hub: h, accountID: key, id: id, ch: ch}, replay, nil
}

// Subscribers reports how many subscriptions are open for accountID.
func (h *Hub) Subscribers(accountID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	st := h.streams[strings.TrimSpace(accountID)]
	h.mu.RUnlock()
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

func (h *Hub) ensureStream(key string) *stream {
	h.mu.RLock()
	current := h.streams[key]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[key]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan UnitEvent)}
		h.streams[key] = current
	}
	return current
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.streams[key]
	if st == nil {
		return
	}
	st.mu.Lock()
	delete(st.subs, id)
	empty := len(st.subs) == 0
	st.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
}

func (s *Subscription) Events() <-chan UnitEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.accountID, s.id)
	})
}
