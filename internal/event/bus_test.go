package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToUserAndWildcard(t *testing.T) {
	b := NewBus()
	var mine, all, other []Event
	b.Subscribe("u1", func(e Event) { mine = append(mine, e) })
	b.Subscribe("", func(e Event) { all = append(all, e) })
	b.Subscribe("u2", func(e Event) { other = append(other, e) })

	b.Publish(Event{Kind: Saved, UserID: "u1", VacancyID: "v1"})

	require.Len(t, mine, 1)
	assert.Equal(t, Saved, mine[0].Kind)
	assert.False(t, mine[0].At.IsZero())
	assert.Len(t, all, 1)
	assert.Empty(t, other)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := NewBus()
	calls := 0
	unsubA := b.Subscribe("u1", func(Event) { calls++ })
	unsubB := b.Subscribe("u1", func(Event) { calls += 10 })

	unsubA()
	unsubA()

	b.Publish(Event{Kind: Unsaved, UserID: "u1", VacancyID: "v1"})
	assert.Equal(t, 10, calls)

	unsubB()
	unsubB()
	b.Publish(Event{Kind: Unsaved, UserID: "u1", VacancyID: "v2"})
	assert.Equal(t, 10, calls)
}

func TestHandlerSubscribingDuringDispatchMissesInFlightEvent(t *testing.T) {
	b := NewBus()
	var late []Event
	b.Subscribe("u1", func(e Event) {
		b.Subscribe("u1", func(e Event) { late = append(late, e) })
	})

	b.Publish(Event{Kind: Saved, UserID: "u1", VacancyID: "v1"})
	assert.Empty(t, late)

	b.Publish(Event{Kind: Saved, UserID: "u1", VacancyID: "v2"})
	require.Len(t, late, 1)
	assert.Equal(t, "v2", late[0].VacancyID)
}

func TestHandlerCanUnsubscribeItself(t *testing.T) {
	b := NewBus()
	calls := 0
	var unsub func()
	unsub = b.Subscribe("u1", func(Event) {
		calls++
		unsub()
	})

	b.Publish(Event{Kind: Saved, UserID: "u1"})
	b.Publish(Event{Kind: Saved, UserID: "u1"})
	assert.Equal(t, 1, calls)
}

func TestLast(t *testing.T) {
	b := NewBus()
	_, ok := b.Last("u1")
	assert.False(t, ok)

	b.Publish(Event{Kind: Saved, UserID: "u1", VacancyID: "v1"})
	b.Publish(Event{Kind: AllRemoved, UserID: "u1"})

	e, ok := b.Last("u1")
	require.True(t, ok)
	assert.Equal(t, AllRemoved, e.Kind)
	_, ok = b.Last("u2")
	assert.False(t, ok)
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	got, stray := 0, 0
	b.Subscribe("", func(Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Publish(Event{Kind: Saved, UserID: "u1"})
		}()
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("u1", func(Event) {
				mu.Lock()
				stray++
				mu.Unlock()
			})
			unsub()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, got)

	// only the wildcard subscription is left
	before := stray
	b.Publish(Event{Kind: Saved, UserID: "u1"})
	assert.Equal(t, 21, got)
	assert.Equal(t, before, stray)
}
