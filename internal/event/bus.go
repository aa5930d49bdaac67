package event

import (
	"sync"
	"time"
)

type Kind string

const (
	Saved      Kind = "saved"
	Unsaved    Kind = "unsaved"
	AllRemoved Kind = "all-removed"
)

// Event is a save state change for one user. VacancyID is empty for AllRemoved.
type Event struct {
	Kind      Kind      `json:"type"`
	UserID    string    `json:"user_id"`
	VacancyID string    `json:"vacancy_id,omitempty"`
	At        time.Time `json:"at"`
}

type Handler func(Event)

type subscription struct {
	id      uint64
	userID  string
	handler Handler
}

// Bus fans save state events out to in-process subscribers. Delivery is
// synchronous and best effort, nothing is persisted or replayed apart from
// the latest event per user.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	last   map[string]Event
}

func NewBus() *Bus {
	return &Bus{last: make(map[string]Event)}
}

// Subscribe registers h for events of userID, or of every user when userID is
// empty. The returned func removes the subscription and may be called any
// number of times.
func (b *Bus) Subscribe(userID string, h Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, userID: userID, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to the handlers subscribed when Publish was called.
// Handlers run on the caller's goroutine and may subscribe or unsubscribe.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	b.last[e.UserID] = e
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.userID == "" || s.userID == e.UserID {
			targets = append(targets, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(e)
	}
}

// Last returns the most recent event published for userID.
func (b *Bus) Last(userID string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.last[userID]
	return e, ok
}
