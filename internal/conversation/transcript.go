package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	messagesKey = "chatMessages"
	configKey   = "chatbotConfig"
)

// KV is the key-value storage a transcript is persisted to.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// RedisKV keeps transcripts in Redis so they survive a restart of the process.
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "mbtichat"
	}
	return &RedisKV{client: client, prefix: prefix}
}

func (r *RedisKV) key(k string) string {
	return r.prefix + ":transcript:" + k
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete transcript keys: %w", err)
	}
	return nil
}

// Transcript is the persisted message list and persona of one chat.
type Transcript struct {
	kv        KV
	sessionID string
}

func NewTranscript(kv KV, sessionID string) *Transcript {
	return &Transcript{kv: kv, sessionID: sessionID}
}

func (t *Transcript) key(name string) string {
	return t.sessionID + ":" + name
}

func (t *Transcript) Messages(ctx context.Context) ([]models.ChatMessage, error) {
	raw, ok, err := t.kv.Get(ctx, t.key(messagesKey))
	if err != nil || !ok {
		return nil, err
	}
	var messages []models.ChatMessage
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages of %s: %w", t.sessionID, err)
	}
	return messages, nil
}

func (t *Transcript) SaveMessages(ctx context.Context, messages []models.ChatMessage) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	return t.kv.Set(ctx, t.key(messagesKey), raw)
}

func (t *Transcript) Config(ctx context.Context) (*models.ChatbotConfig, error) {
	raw, ok, err := t.kv.Get(ctx, t.key(configKey))
	if err != nil || !ok {
		return nil, err
	}
	var cfg models.ChatbotConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config of %s: %w", t.sessionID, err)
	}
	return &cfg, nil
}

func (t *Transcript) SaveConfig(ctx context.Context, cfg models.ChatbotConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return t.kv.Set(ctx, t.key(configKey), raw)
}

// Clear removes both the messages and the persona.
func (t *Transcript) Clear(ctx context.Context) error {
	return t.kv.Delete(ctx, t.key(messagesKey), t.key(configKey))
}
