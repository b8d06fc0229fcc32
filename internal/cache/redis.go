package cache

import (
	"context"
	"errors"

	"github.com/emrgen/cdr/internal/compress"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Shared caches immutable bytes across processes.
type Shared interface {
	// Get returns the bytes stored under key; ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte) error
}

var _ Shared = (*RedisShared)(nil)

type RedisShared struct {
	client  *redis.Client
	encoder compress.Compress
	prefix  string
}

// NewRedis connects to the given redis server.
func NewRedis(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
		Protocol: 2,
	})
}

func NewRedisShared(client *redis.Client, encoder compress.Compress) *RedisShared {
	if encoder == nil {
		encoder = compress.NewGZip()
	}
	return &RedisShared{client: client, encoder: encoder, prefix: "cdr:"}
}

func (r *RedisShared) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res := r.client.Get(ctx, r.prefix+key)
	if res.Err() != nil {
		if errors.Is(res.Err(), redis.Nil) {
			return nil, false, nil
		}
		return nil, false, res.Err()
	}

	buf, err := res.Bytes()
	if err != nil {
		return nil, false, err
	}

	data, err := r.encoder.Decode(buf)
	if err != nil {
		logrus.Warnf("dropping undecodable cache entry %s: %v", key, err)
		return nil, false, nil
	}

	return data, true, nil
}

// Set stores the value without expiry; only immutable content is shared.
func (r *RedisShared) Set(ctx context.Context, key string, data []byte) error {
	buf, err := r.encoder.Encode(data)
	if err != nil {
		return err
	}
	return r.client.SetNX(ctx, r.prefix+key, buf, 0).Err()
}

var _ Shared = NopShared{}

// NopShared never hits.
type NopShared struct{}

func (NopShared) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NopShared) Set(ctx context.Context, key string, data []byte) error {
	return nil
}
