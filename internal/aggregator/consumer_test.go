package aggregator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsentinel/netsentinel/internal/streamstore"
	"github.com/netsentinel/netsentinel/internal/wire"
)

// fakeSource separates entries never delivered to the group (consumed
// via ReadGroup's ">" cursor) from entries already delivered to this
// consumer but not yet acknowledged (consumed via ReadPending's "0"
// cursor), mirroring the two Redis XREADGROUP cursors it stands in for.
type fakeSource struct {
	mu      sync.Mutex
	entries []streamstore.Entry
	pending []streamstore.Entry
	acked   []string
	nextID  int
}

func (f *fakeSource) EnsureGroup(context.Context, string) error { return nil }

func (f *fakeSource) push(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.entries = append(f.entries, streamstore.Entry{ID: fmt.Sprintf("%d-0", f.nextID), Data: payload})
}

// pushPending seeds the consumer's pending list directly, simulating an
// entry that was delivered before a crash and never acknowledged.
func (f *fakeSource) pushPending(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.pending = append(f.pending, streamstore.Entry{ID: fmt.Sprintf("%d-0", f.nextID), Data: payload})
}

func (f *fakeSource) ReadGroup(_ context.Context, _, _ string, count int64, _ time.Duration) ([]streamstore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		time.Sleep(time.Millisecond)
		return nil, nil
	}
	n := int64(len(f.entries))
	if count < n {
		n = count
	}
	batch := f.entries[:n]
	f.entries = f.entries[n:]
	return batch, nil
}

func (f *fakeSource) ReadPending(_ context.Context, _, _ string, count int64) ([]streamstore.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	n := int64(len(f.pending))
	if count < n {
		n = count
	}
	batch := f.pending[:n]
	f.pending = f.pending[n:]
	return batch, nil
}

func (f *fakeSource) Ack(_ context.Context, _ string, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeSource) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

func TestConsumerAppliesFramesAndTracksPending(t *testing.T) {
	src := &fakeSource{}
	model := NewModel(0, nil)
	c := NewConsumer(src, "aggregator", "aggregator-1", 10, 10*time.Millisecond, model)

	batch := wire.Batch{
		InterfaceName: "eth0",
		BatchTS:       time.Now(),
		Frames: []wire.Frame{{
			Timestamp: time.Now(),
			SrcMAC:    mac("aa:aa:aa:00:00:01"),
			DstMAC:    mac("bb:bb:bb:00:00:01"),
			FrameSize: 60,
		}},
	}
	src.push(batch.Encode())

	go c.Run()
	defer c.Stop()

	require.Eventually(t, func() bool {
		devices, _ := model.Counts()
		return devices == 2
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(c.SnapshotPending()) == 1 }, time.Second, time.Millisecond)
}

func TestConsumerDrainsPendingEntriesFromPriorCrash(t *testing.T) {
	src := &fakeSource{}
	model := NewModel(0, nil)
	c := NewConsumer(src, "aggregator", "aggregator-1", 10, 10*time.Millisecond, model)

	// Simulate a batch that was delivered and applied before a crash but
	// never acknowledged: it sits in the PEL, not the stream's ">" tail.
	batch := wire.Batch{
		InterfaceName: "eth0",
		BatchTS:       time.Now(),
		Frames: []wire.Frame{{
			Timestamp: time.Now(),
			SrcMAC:    mac("aa:aa:aa:00:00:01"),
			DstMAC:    mac("bb:bb:bb:00:00:01"),
			FrameSize: 60,
		}},
	}
	src.pushPending(batch.Encode())

	go c.Run()
	defer c.Stop()

	require.Eventually(t, func() bool {
		devices, _ := model.Counts()
		return devices == 2
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(c.SnapshotPending()) == 1 }, time.Second, time.Millisecond)
}

func TestConsumerAckDropsFromPending(t *testing.T) {
	src := &fakeSource{}
	model := NewModel(0, nil)
	c := NewConsumer(src, "aggregator", "aggregator-1", 10, 10*time.Millisecond, model)

	src.push((&wire.Batch{InterfaceName: "eth0", BatchTS: time.Now()}).Encode())

	go c.Run()
	defer c.Stop()

	var ids []string
	require.Eventually(t, func() bool {
		ids = c.SnapshotPending()
		return len(ids) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Ack(context.Background(), ids))
	assert.Empty(t, c.SnapshotPending())
	assert.Equal(t, 1, src.ackedCount())
}
