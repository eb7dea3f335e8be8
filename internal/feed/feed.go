// Package feed publishes execution-log inserts to Redis Streams so live
// clients can follow a run without polling. The store remains the polling
// fallback and the source of truth; the feed is best-effort.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nvara/adscout/internal/store"
)

// Feed is a Redis-backed change feed of execution-log entries.
type Feed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to Redis and returns a Feed.
func New(redisURL string, logger *zap.Logger) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Feed{rdb: rdb, logger: logger}, nil
}

const streamPrefix = "adscout:session:"

func streamKey(sessionID string) string {
	return streamPrefix + sessionID + ":log"
}

// PublishEntry sends one log entry to the session's stream.
func (f *Feed) PublishEntry(ctx context.Context, e *store.LogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	stream := streamKey(e.SessionID)
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1000,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	f.logger.Debug("published log entry",
		zap.String("session", e.SessionID),
		zap.String("step", e.StepName),
		zap.String("status", e.Status))
	return nil
}

// Subscribe listens for log entries on a session's stream, starting from
// new entries only. Cancel the context to stop.
func (f *Feed) Subscribe(ctx context.Context, sessionID string) <-chan *store.LogEntry {
	ch := make(chan *store.LogEntry, 16)
	stream := streamKey(sessionID)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var e store.LogEntry
					if json.Unmarshal([]byte(data), &e) == nil {
						ch <- &e
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (f *Feed) Close() error {
	return f.rdb.Close()
}
