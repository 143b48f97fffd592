package contextstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// RedisOptions configures the redis context store.
type RedisOptions struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RedisStore keeps one hash per scope, named `<prefix><scope>`.
type RedisStore struct {
	opts   RedisOptions
	logger *zap.Logger
	client *redis.Client
}

func NewRedisStore(opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if opts.Addr == "" {
		return nil, rwerrors.BadArguments("redis store needs an addr")
	}
	if opts.Prefix == "" {
		opts.Prefix = "redwire:context:"
	}
	return &RedisStore{
		opts:   opts,
		logger: logger,
		client: redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
	}, nil
}

func (s *RedisStore) Open(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis at %s: %w", s.opts.Addr, err)
	}
	s.logger.Info("Connected redis context store", zap.String("addr", s.opts.Addr))
	return nil
}

func (s *RedisStore) Close(context.Context) error {
	return s.client.Close()
}

func (s *RedisStore) hashKey(scope string) string {
	return s.opts.Prefix + scope
}

func (s *RedisStore) Get(ctx context.Context, scope, key string) (any, error) {
	data, err := s.client.HGet(ctx, s.hashKey(scope), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, rwerrors.NotFound("context key %q in scope %q", key, scope)
	}
	if err != nil {
		return nil, err
	}
	return decodeValue(data)
}

func (s *RedisStore) Keys(ctx context.Context, scope string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey(scope)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) Set(ctx context.Context, scope, key string, value any) error {
	data, err := encodeValue(value)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.hashKey(scope), key, data).Err()
}

func (s *RedisStore) Delete(ctx context.Context, scope, key string) error {
	return s.client.HDel(ctx, s.hashKey(scope), key).Err()
}

func (s *RedisStore) Clean(ctx context.Context, activeScopes []string) error {
	active := activeSet(activeScopes)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.opts.Prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		var stale []string
		for _, k := range keys {
			if _, ok := active[strings.TrimPrefix(k, s.opts.Prefix)]; !ok {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			if err := s.client.Del(ctx, stale...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
