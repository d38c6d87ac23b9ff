package aggregator

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsentinel/netsentinel/internal/telemetry"
)

// eventPublisher publishes payload bytes to the notification channel.
// internal/streamstore.Notifier satisfies this.
type eventPublisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// eventPayload is the wire shape of one published domain event.
type eventPayload struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   eventPayloadBody `json:"payload"`
}

type eventPayloadBody struct {
	Key       string    `json:"key"`
	FirstSeen time.Time `json:"first_seen"`
}

// EventPublisher is A4: it drains NewEvent notifications from a bounded
// in-process channel and publishes each as JSON to the notification
// channel. Overflow drops the oldest pending event rather than blocking
// the producer, matching A2's synchronous call into Notify.
type EventPublisher struct {
	events    chan NewEvent
	publisher eventPublisher
	done      chan struct{}
	stopped   chan struct{}

	publishNewDevices bool
	publishNewFlows   bool
}

// NewEventPublisher constructs an EventPublisher with the given bounded
// channel depth.
func NewEventPublisher(depth int, publisher eventPublisher) *EventPublisher {
	return &EventPublisher{
		events:            make(chan NewEvent, depth),
		publisher:         publisher,
		done:              make(chan struct{}),
		stopped:           make(chan struct{}),
		publishNewDevices: true,
		publishNewFlows:   true,
	}
}

// SetFilters toggles which event kinds Notify actually enqueues,
// mirroring the aggregator config's publish_new_devices/publish_new_flows
// switches. Events of a disabled kind are dropped at the producer, not
// merely unpublished, so they never occupy channel capacity.
func (p *EventPublisher) SetFilters(publishNewDevices, publishNewFlows bool) {
	p.publishNewDevices = publishNewDevices
	p.publishNewFlows = publishNewFlows
}

// Notify implements EventSink. It is called synchronously from A2's hot
// ingest path, so it never blocks: a full channel drops the oldest
// pending event to make room.
func (p *EventPublisher) Notify(ev NewEvent) {
	switch ev.Kind {
	case "new_device":
		if !p.publishNewDevices {
			return
		}
	case "new_flow":
		if !p.publishNewFlows {
			return
		}
	}

	select {
	case p.events <- ev:
	default:
		select {
		case <-p.events:
			telemetry.EventsDropped.WithLabelValues().Inc()
		default:
		}
		select {
		case p.events <- ev:
		default:
			telemetry.EventsDropped.WithLabelValues().Inc()
		}
	}
}

// Run drains the event channel until Stop is called. It blocks; call it
// in its own goroutine.
func (p *EventPublisher) Run() {
	defer close(p.stopped)
	for {
		select {
		case ev := <-p.events:
			p.publish(ev)
		case <-p.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-p.events:
					p.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (p *EventPublisher) publish(ev NewEvent) {
	payload, err := json.Marshal(eventPayload{
		Type:      ev.Kind,
		Timestamp: ev.FirstSeen,
		Payload:   eventPayloadBody{Key: ev.Key, FirstSeen: ev.FirstSeen},
	})
	if err != nil {
		log.WithError(err).Warn("event publisher: marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.publisher.Publish(ctx, payload); err != nil {
		telemetry.EventsDropped.WithLabelValues().Inc()
		log.WithFields(log.Fields{"kind": ev.Kind, "error": err}).Warn("event publish failed")
		return
	}
	telemetry.EventsPublished.WithLabelValues(ev.Kind).Inc()
}

// Stop signals Run to drain and exit, then waits for it to finish.
func (p *EventPublisher) Stop() {
	close(p.done)
	<-p.stopped
}
