package storage

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisProvider stores one JSON blob per workspace id under a key prefix,
// grounded on crdtstorage.RedisAdapter's Set/Get-per-id pattern.
type RedisProvider struct {
	client *redis.Client
	prefix string
}

// NewRedisProvider wraps an existing Redis client. prefix namespaces keys;
// "blockspace:doc" is used if empty.
func NewRedisProvider(client *redis.Client, prefix string) *RedisProvider {
	if prefix == "" {
		prefix = "blockspace:doc"
	}
	return &RedisProvider{client: client, prefix: prefix}
}

func (p *RedisProvider) key(workspaceID string) string {
	return p.prefix + ":" + workspaceID
}

func (p *RedisProvider) Load(ctx context.Context, workspaceID string) (*Update, error) {
	data, err := p.client.Get(ctx, p.key(workspaceID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, errors.Wrap(err, "decode update")
	}
	return &u, nil
}

func (p *RedisProvider) Persist(ctx context.Context, workspaceID string, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return errors.Wrap(err, "encode update")
	}
	if err := p.client.Set(ctx, p.key(workspaceID), data, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (p *RedisProvider) ListUpdates(ctx context.Context, workspaceID string, since map[string]uint64) ([]Update, error) {
	u, err := p.Load(ctx, workspaceID)
	if err != nil || u == nil {
		return nil, err
	}
	if !advancesPast(u.StateVector, since) {
		return nil, nil
	}
	return []Update{*u}, nil
}
