package aggregator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsentinel/netsentinel/internal/telemetry"
)

// Store is the durable side of a persistence cycle: one transactional
// upsert method per entity class, applied in the fixed order the
// Persister calls them in, plus the bucketed Traffic-Metrics write
// derived from the same snapshot. internal/store.DB implements this.
type Store interface {
	UpsertDevices(ctx context.Context, deltas []DeviceDelta) error
	UpsertDeviceIPs(ctx context.Context, deltas []DeviceIPDelta) error
	UpsertVLANs(ctx context.Context, deltas []VLANDelta) error
	UpsertFlows(ctx context.Context, deltas []FlowDelta) error
	UpsertTrafficMetrics(ctx context.Context, bucket time.Time, snap Snapshot) error
	UpsertProtocols(ctx context.Context, deltas []ProtocolDelta) error
}

// Persister is A3: every persist_interval_secs it snapshots A2's dirty
// deltas, commits them into the durable store one transaction per entity
// class in the fixed order Devices -> Device-IPs -> VLANs -> Flows ->
// Traffic-Metrics -> Protocols, and on full success advances A1's
// consumer-group offset. A failed cycle restores the snapshot's deltas
// back into A2 and retries with exponential backoff, without advancing
// the offset.
type Persister struct {
	model    *Model
	store    Store
	consumer *Consumer
	interval time.Duration

	bucketSize        time.Duration
	maxBucketLookback time.Duration

	done    chan struct{}
	stopped chan struct{}
}

// NewPersister constructs a Persister that ticks every interval.
func NewPersister(model *Model, store Store, consumer *Consumer, interval, bucketSize, maxBucketLookback time.Duration) *Persister {
	return &Persister{
		model:             model,
		store:             store,
		consumer:          consumer,
		interval:          interval,
		bucketSize:        bucketSize,
		maxBucketLookback: maxBucketLookback,
		done:              make(chan struct{}),
		stopped:           make(chan struct{}),
	}
}

// Run drives the persistence tick loop until Stop is called. It blocks;
// call it in its own goroutine.
func (p *Persister) Run() {
	defer close(p.stopped)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	backoff := 1 * time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			err := p.cycle()
			for err != nil {
				log.WithError(err).Warn("persister: cycle failed, deltas restored, retrying with backoff")
				select {
				case <-time.After(backoff):
				case <-p.done:
					return
				}
				if backoff < maxBackoff {
					backoff *= 2
					if backoff > maxBackoff {
						backoff = maxBackoff
					}
				}
				err = p.cycle()
			}
			backoff = 1 * time.Second
		}
	}
}

// cycle runs one snapshot-swap-commit-acknowledge round trip.
func (p *Persister) cycle() error {
	pendingIDs := p.consumer.SnapshotPending()
	snap := p.model.Snapshot()

	if len(snap.Devices) == 0 && len(snap.DeviceIPs) == 0 && len(snap.VLANs) == 0 &&
		len(snap.Flows) == 0 && len(snap.Protocols) == 0 {
		// Nothing dirty this cycle; still advance the offset for
		// whatever was consumed so idle periods don't grow the
		// pending-ack list forever.
		return p.ack(pendingIDs)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.commit(ctx, snap); err != nil {
		p.model.Restore(snap)
		return err
	}

	return p.ack(pendingIDs)
}

func (p *Persister) commit(ctx context.Context, snap Snapshot) error {
	steps := []struct {
		class string
		fn    func() error
	}{
		{"devices", func() error { return p.store.UpsertDevices(ctx, snap.Devices) }},
		{"device_ips", func() error { return p.store.UpsertDeviceIPs(ctx, snap.DeviceIPs) }},
		{"vlans", func() error { return p.store.UpsertVLANs(ctx, snap.VLANs) }},
		{"flows", func() error { return p.store.UpsertFlows(ctx, snap.Flows) }},
		{"traffic_metrics", func() error {
			bucket := time.Now().UTC().Truncate(p.bucketSize)
			if p.maxBucketLookback > 0 && time.Since(bucket) > p.maxBucketLookback {
				// Per the Traffic-Metrics bucketing rule, buckets older
				// than max_bucket_lookback are rejected rather than
				// written, to prevent unbounded late-arrival writes.
				log.WithField("bucket", bucket).Warn("persister: traffic metrics bucket exceeds lookback, skipping")
				return nil
			}
			return p.store.UpsertTrafficMetrics(ctx, bucket, snap)
		}},
		{"protocols", func() error { return p.store.UpsertProtocols(ctx, snap.Protocols) }},
	}

	for _, step := range steps {
		start := time.Now()
		err := step.fn()
		telemetry.PersistDuration.WithLabelValues(step.class).Observe(time.Since(start).Seconds())
		if err != nil {
			telemetry.PersistErrors.WithLabelValues(step.class).Inc()
			return err
		}
	}
	return nil
}

func (p *Persister) ack(ids []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.consumer.Ack(ctx, ids)
}

// Stop halts the tick loop after the current cycle, if any, completes,
// then runs one final cycle so deltas accumulated since the last tick
// are not dropped on a graceful shutdown.
func (p *Persister) Stop() {
	close(p.done)
	<-p.stopped
	if err := p.cycle(); err != nil {
		log.WithError(err).Warn("persister: final shutdown cycle failed, deltas restored")
	}
}
