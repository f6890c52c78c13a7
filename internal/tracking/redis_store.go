// Package tracking records which discussion topics a viewer has read. It is
// consumed only to annotate idea listings; losing a marker just makes a topic
// look unread again.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Markers older than this are expired; a topic without recent activity shows
// as unread again, which matches how forum tracking data is pruned.
const markerTTL = 90 * 24 * time.Hour

// RedisStore keeps one last-read timestamp per (viewer, topic).
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "read:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "read:"}
}

func (s *RedisStore) key(userID, topicID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(topicID, 10)
}

// MarkRead records that the viewer has seen the topic as of the given time.
func (s *RedisStore) MarkRead(ctx context.Context, userID, topicID int64, at time.Time) error {
	value := strconv.FormatInt(at.Unix(), 10)
	if err := s.client.Set(ctx, s.key(userID, topicID), value, markerTTL).Err(); err != nil {
		return fmt.Errorf("save read marker: %w", err)
	}
	return nil
}

// ReadStates reports, for each topic, whether the viewer has read it relative
// to the topic's last post. A topic counts as unread only when a marker
// exists and the last post is newer than it; topics the viewer never opened
// carry no marker and report as read, the way forum topic tracking treats
// pruned markers.
func (s *RedisStore) ReadStates(ctx context.Context, userID int64, lastPost map[int64]time.Time) (map[int64]bool, error) {
	states := make(map[int64]bool, len(lastPost))
	if len(lastPost) == 0 {
		return states, nil
	}

	topicIDs := make([]int64, 0, len(lastPost))
	keys := make([]string, 0, len(lastPost))
	for topicID := range lastPost {
		topicIDs = append(topicIDs, topicID)
		keys = append(keys, s.key(userID, topicID))
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read markers: %w", err)
	}

	for i, topicID := range topicIDs {
		states[topicID] = true
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		marker, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if lastPost[topicID].Unix() > marker {
			states[topicID] = false
		}
	}
	return states, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
