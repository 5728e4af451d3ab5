package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"convometrics-server/pkg/analytics"
	"convometrics-server/pkg/errors"
	"convometrics-server/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address      string
	Password     string
	Database     int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TTL          time.Duration
	KeyPrefix    string
}

// RedisSnapshotStore persists snapshots in Redis so they survive
// process restarts and are readable by other consumers.
type RedisSnapshotStore struct {
	client    redis.UniversalClient
	logger    *logrus.Logger
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSnapshotStore creates a Redis-backed snapshot store and
// verifies connectivity before returning.
func NewRedisSnapshotStore(config RedisConfig, logger *logrus.Logger) (*RedisSnapshotStore, error) {
	opts := &redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "convometrics:snapshot:"
	}

	store := &RedisSnapshotStore{
		client:    client,
		logger:    logger,
		keyPrefix: keyPrefix,
		ttl:       config.TTL,
	}

	logger.WithFields(logrus.Fields{
		"address":  config.Address,
		"database": config.Database,
		"ttl":      config.TTL,
	}).Info("Redis snapshot store initialized")

	return store, nil
}

// GetClient returns the underlying Redis client
func (r *RedisSnapshotStore) GetClient() redis.UniversalClient {
	return r.client
}

// Store saves the latest snapshot for a conversation with TTL.
func (r *RedisSnapshotStore) Store(snapshot *analytics.MetricsSnapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jsonData, err := json.Marshal(snapshot)
	if err != nil {
		metrics.RecordStoreOperation("redis", "store", "marshal_error")
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := r.snapshotKey(snapshot.ConversationID)
	if err := r.client.Set(ctx, key, jsonData, r.ttl).Err(); err != nil {
		metrics.RecordStoreOperation("redis", "store", "error")
		return fmt.Errorf("failed to store snapshot in Redis: %w", err)
	}

	metrics.RecordStoreOperation("redis", "store", "success")
	r.logger.WithField("conversation_id", snapshot.ConversationID).Debug("Snapshot stored in Redis")
	return nil
}

// Get retrieves the stored snapshot for a conversation.
func (r *RedisSnapshotStore) Get(conversationID string) (*analytics.MetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := r.snapshotKey(conversationID)
	jsonData, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			metrics.RecordStoreOperation("redis", "get", "miss")
			return nil, errors.NewConversationNotFound(conversationID)
		}
		metrics.RecordStoreOperation("redis", "get", "error")
		return nil, fmt.Errorf("failed to get snapshot from Redis: %w", err)
	}

	var snapshot analytics.MetricsSnapshot
	if err := json.Unmarshal([]byte(jsonData), &snapshot); err != nil {
		metrics.RecordStoreOperation("redis", "get", "unmarshal_error")
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	metrics.RecordStoreOperation("redis", "get", "success")
	return &snapshot, nil
}

// Delete removes a conversation's snapshot from Redis.
func (r *RedisSnapshotStore) Delete(conversationID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := r.snapshotKey(conversationID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		metrics.RecordStoreOperation("redis", "delete", "error")
		return fmt.Errorf("failed to delete snapshot from Redis: %w", err)
	}

	metrics.RecordStoreOperation("redis", "delete", "success")
	r.logger.WithField("conversation_id", conversationID).Debug("Snapshot deleted from Redis")
	return nil
}

// List returns all stored snapshots.
func (r *RedisSnapshotStore) List() ([]*analytics.MetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pattern := r.keyPrefix + "*"
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		metrics.RecordStoreOperation("redis", "list", "error")
		return nil, fmt.Errorf("failed to list snapshot keys: %w", err)
	}

	if len(keys) == 0 {
		return []*analytics.MetricsSnapshot{}, nil
	}

	// Batch the gets through a pipeline.
	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		metrics.RecordStoreOperation("redis", "list", "error")
		return nil, fmt.Errorf("failed to execute batch get: %w", err)
	}

	var snapshots []*analytics.MetricsSnapshot
	for _, cmd := range cmds {
		jsonData, err := cmd.Result()
		if err != nil {
			continue // Key expired between Keys and Get
		}

		var snapshot analytics.MetricsSnapshot
		if err := json.Unmarshal([]byte(jsonData), &snapshot); err != nil {
			r.logger.WithError(err).Warning("Failed to parse snapshot from Redis")
			continue
		}

		snapshots = append(snapshots, &snapshot)
	}

	metrics.RecordStoreOperation("redis", "list", "success")
	return snapshots, nil
}

// Health check
func (r *RedisSnapshotStore) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisSnapshotStore) Close() error {
	return r.client.Close()
}

func (r *RedisSnapshotStore) snapshotKey(conversationID string) string {
	return r.keyPrefix + conversationID
}
