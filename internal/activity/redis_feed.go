// Package activity keeps a capped, newest-first feed of history events in Redis.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventVersionCreated   = "version.created"
	EventVersionSkipped   = "version.skipped"
	EventVersionRestored  = "version.restored"
	EventItemReverted     = "item.reverted"
	EventVersionsCleaned  = "versions.cleaned"
	EventVersionsArchived = "versions.archived"
)

const DefaultLimit = 200

// Event is one entry in the feed
type Event struct {
	Type      string         `json:"type"`
	ItemID    string         `json:"itemId,omitempty"`
	VersionID string         `json:"versionId,omitempty"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

// RedisFeed stores events in a single Redis list trimmed to limit entries.
// A nil *RedisFeed accepts and drops everything.
type RedisFeed struct {
	client *redis.Client
	key    string
	limit  int64
}

// NewRedisFeed connects to redisURL and verifies the connection
func NewRedisFeed(redisURL, scope string, limit int) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisFeedWithClient(client, scope, limit), nil
}

// NewRedisFeedWithClient creates a feed from an existing Redis client
func NewRedisFeedWithClient(client *redis.Client, scope string, limit int) *RedisFeed {
	if scope == "" {
		scope = "default"
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &RedisFeed{
		client: client,
		key:    "activity:" + scope,
		limit:  int64(limit),
	}
}

// Record pushes event onto the head of the feed and trims the tail.
func (f *RedisFeed) Record(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal activity event: %w", err)
	}

	_, err = f.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, f.key, payload)
		pipe.LTrim(ctx, f.key, 0, f.limit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first. Entries that fail to decode
// are skipped.
func (f *RedisFeed) Recent(ctx context.Context, n int) ([]Event, error) {
	events := make([]Event, 0)
	if f == nil || n <= 0 {
		return events, nil
	}
	if int64(n) > f.limit {
		n = int(f.limit)
	}

	raw, err := f.client.LRange(ctx, f.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read activity: %w", err)
	}
	for _, entry := range raw {
		var event Event
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Close closes the Redis connection
func (f *RedisFeed) Close() error {
	if f == nil {
		return nil
	}
	return f.client.Close()
}

// Ping checks if Redis is reachable
func (f *RedisFeed) Ping(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f.client.Ping(ctx).Err()
}
