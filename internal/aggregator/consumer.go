package aggregator

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsentinel/netsentinel/internal/streamstore"
	"github.com/netsentinel/netsentinel/internal/telemetry"
	"github.com/netsentinel/netsentinel/internal/wire"
)

// FrameSource is the subset of internal/streamstore.Store the consumer
// needs, kept as an interface so tests can exercise the read/apply/ack
// loop against a fake stream.
type FrameSource interface {
	EnsureGroup(ctx context.Context, group string) error
	ReadGroup(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]streamstore.Entry, error)
	ReadPending(ctx context.Context, group, consumer string, count int64) ([]streamstore.Entry, error)
	Ack(ctx context.Context, group string, ids ...string) error
}

// Consumer is A1: it reads batches from the frame stream under a named
// consumer group, decodes and applies each frame to the in-memory model
// synchronously, and holds a pending-ack list. Acknowledgement is
// deferred to the persister's next successful commit rather than issued
// per read, so a crash before commit causes the same entries to be
// redelivered on restart.
type Consumer struct {
	store    FrameSource
	group    string
	consumer string
	count    int64
	block    time.Duration
	model    *Model

	pendingMu sync.Mutex
	pending   []string

	done    chan struct{}
	stopped chan struct{}
}

// NewConsumer constructs a Consumer bound to store under the given
// consumer group and name.
func NewConsumer(store FrameSource, group, consumerName string, count int64, block time.Duration, model *Model) *Consumer {
	return &Consumer{
		store:    store,
		group:    group,
		consumer: consumerName,
		count:    count,
		block:    block,
		model:    model,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run ensures the consumer group exists at the stream tail (resuming at
// the last acknowledged offset if the group already existed), drains any
// entries left in this consumer's pending list from a prior crash, and
// then loops reading and applying new batches until Stop is called. It
// blocks; call it in its own goroutine.
func (c *Consumer) Run() {
	defer close(c.stopped)

	if err := c.store.EnsureGroup(context.Background(), c.group); err != nil {
		log.WithError(err).Error("consumer: failed to ensure consumer group, worker exiting")
		return
	}

	if err := c.drainPending(); err != nil {
		log.WithError(err).Error("consumer: failed to drain pending entries, worker exiting")
		return
	}

	backoff := 100 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for {
		select {
		case <-c.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.block+5*time.Second)
		entries, err := c.store.ReadGroup(ctx, c.group, c.consumer, c.count, c.block)
		cancel()

		if err != nil {
			telemetry.ConsumerReadErrors.WithLabelValues(c.group).Inc()
			log.WithFields(log.Fields{"group": c.group, "error": err}).
				Warn("consumer: read failed, retrying with backoff")
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
			continue
		}
		backoff = 100 * time.Millisecond

		for _, entry := range entries {
			c.applyEntry(entry)
		}
	}
}

// drainPending replays every entry already delivered to this consumer's
// name but never acknowledged, before the read loop starts taking new
// entries via ">". Without this, an entry consumed but not yet
// committed at the time of a crash would sit in the group's PEL forever:
// ">" only ever delivers entries never before handed to the group, so a
// restart resuming at the tail would silently drop it.
func (c *Consumer) drainPending() error {
	for {
		entries, err := c.store.ReadPending(context.Background(), c.group, c.consumer, c.count)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			c.applyEntry(entry)
		}
	}
}

func (c *Consumer) applyEntry(entry streamstore.Entry) {
	batch, err := wire.DecodeBatch(entry.Data)
	if err != nil {
		log.WithFields(log.Fields{"entry_id": entry.ID, "error": err}).
			Error("consumer: malformed batch entry, skipping")
		c.markPending(entry.ID)
		return
	}

	for i := range batch.Frames {
		c.model.ProcessFrame(&batch.Frames[i])
	}
	telemetry.FramesConsumed.WithLabelValues(c.group).Add(float64(len(batch.Frames)))

	c.markPending(entry.ID)
}

func (c *Consumer) markPending(id string) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, id)
	c.pendingMu.Unlock()
}

// SnapshotPending returns a copy of the entry IDs consumed but not yet
// acknowledged, for the persister to acknowledge after a successful
// commit.
func (c *Consumer) SnapshotPending() []string {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if len(c.pending) == 0 {
		return nil
	}
	ids := make([]string, len(c.pending))
	copy(ids, c.pending)
	return ids
}

// Ack acknowledges ids (a prefix previously returned by SnapshotPending)
// against the consumer group and drops them from the pending list.
func (c *Consumer) Ack(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.store.Ack(ctx, c.group, ids...); err != nil {
		return err
	}
	c.pendingMu.Lock()
	if len(ids) <= len(c.pending) {
		c.pending = c.pending[len(ids):]
	}
	c.pendingMu.Unlock()
	return nil
}

// Stop halts the read loop.
func (c *Consumer) Stop() {
	close(c.done)
	<-c.stopped
}
