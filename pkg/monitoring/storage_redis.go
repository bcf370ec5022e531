package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage implements Storage on Redis, for sharing state across
// multiple observability API replicas in front of one aggregator.
type RedisStorage struct {
	client *redis.Client
	config RedisConfig
	ctx    context.Context
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Database int    `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
	TTL      string `yaml:"ttl"`
}

const (
	redisRoundsKey      = "rounds:list"
	redisReputationsKey = "reputations:list"
	redisThresholdKey   = "threshold:latest"
	redisEventsStream   = "events"
)

// NewRedisStorage creates a new Redis-backed storage backend.
func NewRedisStorage(config RedisConfig) (*RedisStorage, error) {
	opts := &redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	client := redis.NewClient(opts)
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStorage{client: client, config: config, ctx: ctx}, nil
}

func (r *RedisStorage) ttl() time.Duration {
	if r.config.TTL == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(r.config.TTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

func (r *RedisStorage) StoreRoundSnapshot(snap RoundSnapshot) error {
	snap.RecordedAt = time.Now()
	key := fmt.Sprintf("round:%s", snap.RoundID)
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal round snapshot: %w", err)
	}
	if err := r.client.Set(r.ctx, key, data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("store round snapshot: %w", err)
	}
	if err := r.client.SAdd(r.ctx, redisRoundsKey, snap.RoundID).Err(); err != nil {
		return fmt.Errorf("index round snapshot: %w", err)
	}
	r.client.Expire(r.ctx, redisRoundsKey, r.ttl())
	return nil
}

func (r *RedisStorage) GetRoundSnapshot(roundID string) (*RoundSnapshot, error) {
	data, err := r.client.Get(r.ctx, fmt.Sprintf("round:%s", roundID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get round snapshot: %w", err)
	}
	var snap RoundSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal round snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisStorage) ListRoundSnapshots() ([]RoundSnapshot, error) {
	ids, err := r.client.SMembers(r.ctx, redisRoundsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list round ids: %w", err)
	}
	var out []RoundSnapshot
	for _, id := range ids {
		snap, err := r.GetRoundSnapshot(id)
		if err != nil || snap == nil {
			continue
		}
		out = append(out, *snap)
	}
	return out, nil
}

func (r *RedisStorage) StoreReputationEntry(entry ReputationEntry) error {
	key := fmt.Sprintf("reputation:%s", entry.ParticipantID)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal reputation entry: %w", err)
	}
	if err := r.client.Set(r.ctx, key, data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("store reputation entry: %w", err)
	}
	if err := r.client.SAdd(r.ctx, redisReputationsKey, entry.ParticipantID).Err(); err != nil {
		return fmt.Errorf("index reputation entry: %w", err)
	}
	r.client.Expire(r.ctx, redisReputationsKey, r.ttl())
	return nil
}

func (r *RedisStorage) ListReputationEntries() ([]ReputationEntry, error) {
	ids, err := r.client.SMembers(r.ctx, redisReputationsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list reputation ids: %w", err)
	}
	var out []ReputationEntry
	for _, id := range ids {
		data, err := r.client.Get(r.ctx, fmt.Sprintf("reputation:%s", id)).Result()
		if err != nil {
			continue
		}
		var entry ReputationEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *RedisStorage) StoreThresholdSnapshot(snap ThresholdSnapshot) error {
	snap.RecordedAt = time.Now()
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal threshold snapshot: %w", err)
	}
	return r.client.Set(r.ctx, redisThresholdKey, data, r.ttl()).Err()
}

func (r *RedisStorage) GetLatestThresholdSnapshot() (*ThresholdSnapshot, error) {
	data, err := r.client.Get(r.ctx, redisThresholdKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get threshold snapshot: %w", err)
	}
	var snap ThresholdSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal threshold snapshot: %w", err)
	}
	return &snap, nil
}

func (r *RedisStorage) StoreEvent(event MonitoringEvent) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	values := map[string]interface{}{
		"round_id":  event.RoundID,
		"type":      string(event.Type),
		"message":   event.Message,
		"level":     event.Level,
		"data":      string(dataJSON),
		"timestamp": event.Timestamp.Unix(),
	}
	if err := r.client.XAdd(r.ctx, &redis.XAddArgs{Stream: redisEventsStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	r.client.Expire(r.ctx, redisEventsStream, r.ttl())
	r.client.XTrimMaxLen(r.ctx, redisEventsStream, 10000)
	return nil
}

func (r *RedisStorage) GetEvents(filter EventsFilter) ([]MonitoringEvent, error) {
	count := int64(filter.Limit + filter.Offset)
	if count <= 0 {
		count = 100
	}
	streams, err := r.client.XRevRangeN(r.ctx, redisEventsStream, "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return []MonitoringEvent{}, nil
		}
		return nil, fmt.Errorf("get events: %w", err)
	}

	var events []MonitoringEvent
	for _, stream := range streams {
		e := MonitoringEvent{}
		for field, value := range stream.Values {
			str, _ := value.(string)
			switch field {
			case "round_id":
				e.RoundID = str
			case "type":
				e.Type = EventType(str)
			case "message":
				e.Message = str
			case "level":
				e.Level = str
			case "data":
				if str != "" {
					var data map[string]interface{}
					if json.Unmarshal([]byte(str), &data) == nil {
						e.Data = data
					}
				}
			case "timestamp":
				var unix int64
				fmt.Sscanf(str, "%d", &unix)
				e.Timestamp = time.Unix(unix, 0)
			}
		}
		if filter.RoundID != "" && e.RoundID != filter.RoundID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		events = append(events, e)
	}

	start := filter.Offset
	if start > len(events) {
		return []MonitoringEvent{}, nil
	}
	end := len(events)
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return events[start:end], nil
}

func (r *RedisStorage) Cleanup(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).Unix()
	return r.client.XTrimMinID(r.ctx, redisEventsStream, fmt.Sprintf("%d-0", cutoff)).Err()
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}
