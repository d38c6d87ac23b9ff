package capture

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsentinel/netsentinel/internal/telemetry"
	"github.com/netsentinel/netsentinel/internal/wire"
)

// Publisher appends an encoded batch payload to the frame stream.
// internal/streamstore.Store satisfies this with its Append method.
type Publisher interface {
	Append(ctx context.Context, maxLen int64, data []byte) (string, error)
}

// Batcher groups Canonical Frames from one interface into size- or
// time-bounded batches and hands each closed batch to a bounded publish
// queue, draining it with a dedicated goroutine that retries transient
// publish failures with exponential backoff and drops the oldest queued
// batch when the queue is full.
type Batcher struct {
	iface           string
	batchSize       int
	flushInterval   time.Duration
	maxStreamLength int64

	publisher Publisher

	frames  chan wire.Frame
	queue   chan []byte
	done    chan struct{}
	stopped chan struct{}
	drainWg sync.WaitGroup
}

// NewBatcher constructs a Batcher for one interface. publishQueueDepth
// bounds the number of pending encoded batches awaiting publish.
func NewBatcher(iface string, batchSize int, flushInterval time.Duration, maxStreamLength int64, publishQueueDepth int, publisher Publisher) *Batcher {
	return &Batcher{
		iface:           iface,
		batchSize:       batchSize,
		flushInterval:   flushInterval,
		maxStreamLength: maxStreamLength,
		publisher:       publisher,
		frames:          make(chan wire.Frame, batchSize*2),
		queue:           make(chan []byte, publishQueueDepth),
		done:            make(chan struct{}),
		stopped:         make(chan struct{}),
	}
}

// Submit hands one decoded frame to the batcher. It blocks only as long
// as the internal frame channel is full, which indicates the batching
// goroutine has fallen behind.
func (b *Batcher) Submit(f wire.Frame) {
	b.frames <- f
}

// Run drives the batch-accumulation loop and the publish-queue drainer
// until Stop is called. It blocks; call it in its own goroutine.
func (b *Batcher) Run() {
	b.drainWg.Add(1)
	go func() {
		defer b.drainWg.Done()
		b.drainQueue()
	}()

	batch := make([]wire.Frame, 0, b.batchSize)
	timer := time.NewTimer(b.flushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		b.enqueue(batch)
		batch = make([]wire.Frame, 0, b.batchSize)
	}

	for {
		select {
		case f := <-b.frames:
			batch = append(batch, f)
			if len(batch) >= b.batchSize {
				flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(b.flushInterval)
			}

		case <-timer.C:
			flush()
			timer.Reset(b.flushInterval)

		case <-b.done:
			// Take in frames already submitted but not yet batched, so
			// the final flush covers everything handed to Submit.
		intake:
			for {
				select {
				case f := <-b.frames:
					batch = append(batch, f)
					if len(batch) >= b.batchSize {
						flush()
					}
				default:
					break intake
				}
			}
			flush()
			close(b.queue)
			b.drainWg.Wait()
			close(b.stopped)
			return
		}
	}
}

// Stop closes the frame intake and waits for a final flush and for the
// publish-queue drainer to finish publishing everything already queued.
// Once Stop has been called, a failed publish ends the drainer at once,
// and the batches still queued are not published.
func (b *Batcher) Stop() {
	close(b.done)
	<-b.stopped
}

func (b *Batcher) enqueue(frames []wire.Frame) {
	encoded := (&wire.Batch{
		InterfaceName: b.iface,
		BatchTS:       time.Now().UTC(),
		Frames:        frames,
	}).Encode()

	telemetry.BatchSize.WithLabelValues(b.iface).Observe(float64(len(frames)))

	select {
	case b.queue <- encoded:
	default:
		// drop-oldest: make room by discarding the head of the queue
		select {
		case <-b.queue:
			telemetry.FramesDropped.WithLabelValues(b.iface, "publish_queue_full").Add(float64(len(frames)))
		default:
		}
		select {
		case b.queue <- encoded:
		default:
			telemetry.FramesDropped.WithLabelValues(b.iface, "publish_queue_full").Add(float64(len(frames)))
		}
	}
}

func (b *Batcher) drainQueue() {
	backoff := 100 * time.Millisecond
	const maxBackoff = 10 * time.Second

	for payload := range b.queue {
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_, err := b.publisher.Append(ctx, b.maxStreamLength, payload)
			cancel()

			if err == nil {
				telemetry.BatchesPublished.WithLabelValues(b.iface).Inc()
				backoff = 100 * time.Millisecond
				break
			}

			telemetry.PublishErrors.WithLabelValues(b.iface).Inc()
			log.WithFields(log.Fields{"interface": b.iface, "error": err}).
				Warn("batch publish failed, retrying with backoff")

			select {
			case <-time.After(backoff):
			case <-b.done:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}
}
