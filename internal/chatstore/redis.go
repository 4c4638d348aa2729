package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

const DefaultTTL = 24 * time.Hour

// RedisOptions configures the connection used for transcripts.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient creates a client and checks the connection.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// Redis keeps each transcript as a list of JSON messages next to its
// instruction. Both keys expire together after TTL without writes.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func messagesKey(key string) string {
	return "chat:" + key + ":messages"
}

func contextKey(key string) string {
	return "chat:" + key + ":context"
}

func encode(messages []models.ChatMessage) ([]any, error) {
	values := make([]any, 0, len(messages))
	for _, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode chat message: %w", err)
		}
		values = append(values, raw)
	}
	return values, nil
}

func (s *Redis) Reset(ctx context.Context, key, instruction string, messages ...models.ChatMessage) error {
	values, err := encode(messages)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, messagesKey(key), contextKey(key))
		pipe.Set(ctx, contextKey(key), instruction, s.ttl)
		if len(values) > 0 {
			pipe.RPush(ctx, messagesKey(key), values...)
			pipe.Expire(ctx, messagesKey(key), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset chat %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Append(ctx context.Context, key string, messages ...models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values, err := encode(messages)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, messagesKey(key), values...)
		pipe.Expire(ctx, messagesKey(key), s.ttl)
		pipe.Expire(ctx, contextKey(key), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to chat %s: %w", key, err)
	}
	return nil
}

func (s *Redis) Messages(ctx context.Context, key string) ([]models.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, messagesKey(key), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat %s: %w", key, err)
	}

	messages := make([]models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Instruction returns "" for unknown or expired sessions.
func (s *Redis) Instruction(ctx context.Context, key string) (string, error) {
	instruction, err := s.client.Get(ctx, contextKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read chat context %s: %w", key, err)
	}
	return instruction, nil
}

// Delete drops a transcript, used when its analysis is removed.
func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, messagesKey(key), contextKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete chat %s: %w", key, err)
	}
	return nil
}

// Health pings the server.
func (s *Redis) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
