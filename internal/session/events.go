package session

import (
	"sync"
	"time"

	"github.com/RGBKey/yolodice-api/internal/rpckit"
	"github.com/RGBKey/yolodice-api/pkg/models"
)

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventLoggedIn
	EventAuthFailed
	EventSign
	EventError
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventLoggedIn:
		return "logged_in"
	case EventAuthFailed:
		return "auth_failed"
	case EventSign:
		return "sign"
	case EventError:
		return "error"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one session occurrence. Which payload field is set depends on
// Kind: Identity for EventLoggedIn, AuthError for EventAuthFailed, Message
// for EventSign, Err for EventError and EventDisconnected.
type Event struct {
	Seq       int64
	Kind      EventKind
	SessionID string
	Timestamp time.Time

	Identity  models.Identity
	AuthError *rpckit.AuthError
	Message   []byte
	Err       error
}

// Observer receives every event synchronously once it has been published.
// It must not block.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// EventHub fans events out to subscribers and keeps a bounded history for
// replay. A subscriber that falls behind is dropped and its channel closed.
type EventHub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []Event
	subs    map[int]chan Event
	nextSub int
}

func NewEventHub(limit int) *EventHub {
	if limit < 1 {
		limit = 1
	}
	return &EventHub{
		limit: limit,
		subs:  make(map[int]chan Event),
	}
}

func (h *EventHub) Publish(ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	ev.Seq = h.nextSeq
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.history = append(h.history, ev)
	if len(h.history) > h.limit {
		h.history = append([]Event(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
	return ev
}

// Subscribe returns the retained events after fromSeq, a channel for new
// ones and a cancel func.
func (h *EventHub) Subscribe(fromSeq int64) ([]Event, <-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var replay []Event
	for _, ev := range h.history {
		if ev.Seq > fromSeq {
			replay = append(replay, ev)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *EventHub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *EventHub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}
