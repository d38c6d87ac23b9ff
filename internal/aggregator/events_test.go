package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeEventPublisher) Publish(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeEventPublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestEventPublisherPublishesNotifications(t *testing.T) {
	pub := &fakeEventPublisher{}
	ep := NewEventPublisher(4, pub)
	go ep.Run()
	defer ep.Stop()

	ep.Notify(NewEvent{Kind: "new_device", Key: "aa:aa:aa:00:00:01", FirstSeen: time.Now()})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
}

func TestEventPublisherDropsOldestOnOverflow(t *testing.T) {
	pub := &fakeEventPublisher{}
	ep := NewEventPublisher(1, pub)
	// Do not start Run yet: fill the channel past capacity to exercise
	// the drop-oldest path directly.
	ep.Notify(NewEvent{Kind: "new_device", Key: "first"})
	ep.Notify(NewEvent{Kind: "new_device", Key: "second"})

	assert.Len(t, ep.events, 1)
	assert.Equal(t, "second", (<-ep.events).Key)
}
