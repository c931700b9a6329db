package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, prefix string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) sceneKey(scope Scope) string {
	return r.prefix + "scene:" + string(scope)
}

func (r *RedisStore) Put(ctx context.Context, scope Scope, id uuid.UUID, kind string) error {
	return r.client.HSet(ctx, r.sceneKey(scope), id.String(), kind).Err()
}

func (r *RedisStore) Delete(ctx context.Context, scope Scope, id uuid.UUID) error {
	return r.client.HDel(ctx, r.sceneKey(scope), id.String()).Err()
}

func (r *RedisStore) Clear(ctx context.Context, scope Scope) error {
	return r.client.Del(ctx, r.sceneKey(scope)).Err()
}

func (r *RedisStore) List(ctx context.Context, scope Scope) (map[uuid.UUID]string, error) {
	fields, err := r.client.HGetAll(ctx, r.sceneKey(scope)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]string, len(fields))
	for key, kind := range fields {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("parse scene key %q: %w", key, err)
		}
		out[id] = kind
	}
	return out, nil
}

func (r *RedisStore) IsProcessed(ctx context.Context, id uuid.UUID) (bool, error) {
	count, err := r.client.Exists(ctx, r.prefix+"processed:"+id.String()).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RedisStore) MarkProcessed(ctx context.Context, id uuid.UUID, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+"processed:"+id.String(), "1", ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
