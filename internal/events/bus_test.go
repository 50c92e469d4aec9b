package events_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/visitsync/internal/events"
)

func TestBusPublishOrder(t *testing.T) {
	var bus events.Bus[int]
	var got []string

	bus.Subscribe(func(v int) { got = append(got, "a") })
	bus.Subscribe(func(v int) { got = append(got, "b") })

	bus.Publish(1)

	assert.Equal(t, []string{"a", "b"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	var bus events.Bus[string]
	var calls int

	sub := bus.Subscribe(func(string) { calls++ })
	keep := bus.Subscribe(func(string) {})
	assert.Equal(t, 2, bus.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()
	bus.Publish("x")

	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, bus.Len())

	keep.Unsubscribe()
	assert.Equal(t, 0, bus.Len())
}

func TestBusUnsubscribeDuringPublish(t *testing.T) {
	var bus events.Bus[int]
	var sub *events.Subscription
	var calls int

	sub = bus.Subscribe(func(int) {
		calls++
		sub.Unsubscribe()
	})

	bus.Publish(1)
	bus.Publish(2)

	assert.Equal(t, 1, calls)
}

func TestBusConcurrent(t *testing.T) {
	var bus events.Bus[int]
	var mu sync.Mutex
	total := 0

	bus.Subscribe(func(v int) {
		mu.Lock()
		total += v
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := bus.Subscribe(func(int) {})
			bus.Publish(1)
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, total)
	assert.Equal(t, 1, bus.Len())
}

func TestNilSubscription(t *testing.T) {
	var sub *events.Subscription
	assert.NotPanics(t, sub.Unsubscribe)
}
