// Package streamstore wraps the Redis client used for the frame stream
// (C3 publish, A1 consume) and the event notification channel (A4),
// following the go-redis/v9 client usage style of goflow2's state/redis.go.
package streamstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a thin wrapper over a Redis client scoped to one stream.
type Store struct {
	client *redis.Client
	stream string
}

// Entry is one raw stream entry as read back by ReadGroup: its Redis
// entry ID plus the binary payload stored under the "data" field.
type Entry struct {
	ID   string
	Data []byte
}

// Open parses url and returns a Store bound to streamName with the given
// connection pool size.
func Open(url, streamName string, poolSize int) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("streamstore: parse redis url: %w", err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	return &Store{client: redis.NewClient(opts), stream: streamName}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Append publishes one batch payload as a single stream entry, capping
// the stream at approximately maxLen entries via MAXLEN ~.
func (s *Store) Append(ctx context.Context, maxLen int64, data []byte) (string, error) {
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("streamstore: xadd %s: %w", s.stream, err)
	}
	return id, nil
}

// EnsureGroup creates the named consumer group at the tail of the
// stream, creating the stream itself if it does not yet exist.
// Idempotent: an existing group (BUSYGROUP) is not an error.
func (s *Store) EnsureGroup(ctx context.Context, group string) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("streamstore: create consumer group %q on %q: %w", group, s.stream, err)
	}
	return nil
}

// ReadGroup reads up to count new entries for consumer within group,
// blocking up to block for new entries when none are immediately
// available. It only ever delivers entries never before delivered to
// the group (">"); already-delivered, unacknowledged entries sitting
// in consumer's pending list are read separately via ReadPending.
func (s *Store) ReadGroup(ctx context.Context, group, consumer string, count int64, block time.Duration) ([]Entry, error) {
	return s.xReadGroup(ctx, group, consumer, ">", count, block)
}

// ReadPending re-reads entries already delivered to consumer but not yet
// acknowledged (its Pending Entries List), without blocking and without
// consuming new stream entries. Called at startup, before the first
// ReadGroup call, so that a crash between consume and commit does not
// orphan the batch: the entries stay in the PEL across a restart under
// the same consumer name and are replayed here instead of being skipped
// by the ">" cursor. Returns an empty slice once the PEL is drained.
func (s *Store) ReadPending(ctx context.Context, group, consumer string, count int64) ([]Entry, error) {
	return s.xReadGroup(ctx, group, consumer, "0", count, 0)
}

func (s *Store) xReadGroup(ctx context.Context, group, consumer, start string, count int64, block time.Duration) ([]Entry, error) {
	res, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.stream, start},
		Count:    count,
		Block:    block,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("streamstore: xreadgroup %s/%s on %s (start %s): %w", group, consumer, s.stream, start, err)
	}

	var entries []Entry
	for _, stream := range res {
		for _, msg := range stream.Messages {
			raw, ok := msg.Values["data"]
			if !ok {
				continue
			}
			var data []byte
			switch v := raw.(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			entries = append(entries, Entry{ID: msg.ID, Data: data})
		}
	}
	return entries, nil
}

// Ack acknowledges one or more entry IDs within group, advancing the
// consumer group's offset. The aggregator calls this only after a
// persister commit, never immediately on read.
func (s *Store) Ack(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, s.stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("streamstore: xack %s/%s: %w", group, s.stream, err)
	}
	return nil
}

// Len reports the current stream length via XLEN.
func (s *Store) Len(ctx context.Context) (int64, error) {
	n, err := s.client.XLen(ctx, s.stream).Result()
	if err != nil {
		return 0, fmt.Errorf("streamstore: xlen %s: %w", s.stream, err)
	}
	return n, nil
}

// Notifier publishes JSON event payloads to a pub/sub channel, separate
// from the frame stream, for A4.
type Notifier struct {
	client  *redis.Client
	channel string
}

// OpenNotifier parses url and returns a Notifier bound to channel.
func OpenNotifier(url, channel string) (*Notifier, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("streamstore: parse redis url: %w", err)
	}
	return &Notifier{client: redis.NewClient(opts), channel: channel}, nil
}

// Close releases the underlying connection pool.
func (n *Notifier) Close() error {
	return n.client.Close()
}

// Publish sends payload to the notification channel.
func (n *Notifier) Publish(ctx context.Context, payload []byte) error {
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("streamstore: publish to %s: %w", n.channel, err)
	}
	return nil
}
