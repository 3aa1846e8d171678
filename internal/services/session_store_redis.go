package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/redis/go-redis/v9"
)

const defaultUpdateRetries = 8

// RedisSessionStore keeps sessions in Redis so several API instances share
// lockouts. Updates are optimistic WATCH/MULTI transactions on the session key.
type RedisSessionStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	now        func() time.Time
}

func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "mbtichat"
	}
	return &RedisSessionStore{
		client:     client,
		prefix:     prefix,
		maxRetries: defaultUpdateRetries,
		now:        time.Now,
	}
}

func (r *RedisSessionStore) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

func decodeSession(data []byte) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decodeSession(data)
}

func (r *RedisSessionStore) Put(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return r.client.Set(ctx, r.key(session.SessionID), data, 0).Err()
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, r.key(sessionID)).Err()
}

func (r *RedisSessionStore) Update(ctx context.Context, sessionID string, fn func(session *models.Session) error) (*models.Session, error) {
	key := r.key(sessionID)
	for i := 0; i < r.maxRetries; i++ {
		var updated *models.Session
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			var session *models.Session
			data, err := tx.Get(ctx, key).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				session = models.NewSession(sessionID, r.now())
			case err != nil:
				return err
			default:
				if session, err = decodeSession(data); err != nil {
					return err
				}
			}

			if err := fn(session); err != nil {
				return err
			}
			encoded, err := json.Marshal(session)
			if err != nil {
				return fmt.Errorf("failed to encode session: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err == nil {
				updated = session
			}
			return err
		}, key)

		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrSessionContention
}

// Sweep scans the prefix and deletes each expired session inside a watched
// transaction, so a session modified during the sweep is left alone.
func (r *RedisSessionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+":session:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			session, err := decodeSession(data)
			if err != nil {
				return err
			}
			if !session.LockoutElapsed(now) {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err == nil {
				removed++
			}
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to sweep %s: %w", key, err)
		}
	}
	return removed, iter.Err()
}
