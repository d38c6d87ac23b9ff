package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsentinel/netsentinel/internal/wire"
)

type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     int
}

func (f *fakePublisher) Append(_ context.Context, _ int64, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return "", assertErr{}
	}
	f.payloads = append(f.payloads, data)
	return "0-1", nil
}

type assertErr struct{}

func (assertErr) Error() string { return "transient publish failure" }

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestBatcherFlushesOnSize(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBatcher("eth0", 2, time.Hour, 1000, 10, pub)
	go b.Run()

	b.Submit(wire.Frame{Interface: "eth0"})
	b.Submit(wire.Frame{Interface: "eth0"})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
	b.Stop()
}

func TestBatcherFlushesOnTimer(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBatcher("eth0", 1000, 20*time.Millisecond, 1000, 10, pub)
	go b.Run()

	b.Submit(wire.Frame{Interface: "eth0"})

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, time.Millisecond)
	b.Stop()
}

func TestBatcherRetriesOnTransientFailure(t *testing.T) {
	pub := &fakePublisher{fail: 2}
	b := NewBatcher("eth0", 1, time.Hour, 1000, 10, pub)
	go b.Run()

	b.Submit(wire.Frame{Interface: "eth0"})

	require.Eventually(t, func() bool { return pub.count() == 1 }, 3*time.Second, 10*time.Millisecond)
	b.Stop()
}

func TestBatcherFlushesRemainderOnStop(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBatcher("eth0", 1000, time.Hour, 1000, 10, pub)
	go b.Run()

	b.Submit(wire.Frame{Interface: "eth0"})
	b.Stop()

	assert.Equal(t, 1, pub.count())
}
