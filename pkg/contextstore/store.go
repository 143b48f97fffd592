// Package contextstore implements Node-RED style node, flow and global context
// on top of pluggable key/value stores.
package contextstore

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/wehubfusion/redwire/internal/xjson"
	rwerrors "github.com/wehubfusion/redwire/pkg/errors"
)

// GlobalScope is the scope name of the global context.
const GlobalScope = "global"

// Store types understood by NewStore.
const (
	TypeMemory = "memory"
	TypeBadger = "badger"
	TypeRedis  = "redis"
	TypeAzBlob = "azblob"
)

// Store keeps top-level context values per scope. Nested property access is
// handled by Context, so stores only ever see plain keys.
type Store interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error

	// Get returns ErrNotFound when the key is missing.
	Get(ctx context.Context, scope, key string) (any, error)
	Keys(ctx context.Context, scope string) ([]string, error)
	Set(ctx context.Context, scope, key string, value any) error
	Delete(ctx context.Context, scope, key string) error

	// Clean drops every scope that is neither global nor listed in activeScopes.
	Clean(ctx context.Context, activeScopes []string) error
}

// StoreConfig selects and configures one store.
type StoreConfig struct {
	Type    string         `json:"type" validate:"required,oneof=memory badger redis azblob"`
	Options map[string]any `json:"options"`
}

// NewStore creates a store from its configuration.
func NewStore(cfg StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(), nil
	case TypeBadger:
		var opts BadgerOptions
		if err := xjson.Convert(cfg.Options, &opts); err != nil {
			return nil, rwerrors.BadArguments("badger options: %v", err)
		}
		return NewBadgerStore(opts, logger)
	case TypeRedis:
		var opts RedisOptions
		if err := xjson.Convert(cfg.Options, &opts); err != nil {
			return nil, rwerrors.BadArguments("redis options: %v", err)
		}
		return NewRedisStore(opts, logger)
	case TypeAzBlob:
		var opts AzBlobOptions
		if err := xjson.Convert(cfg.Options, &opts); err != nil {
			return nil, rwerrors.BadArguments("azblob options: %v", err)
		}
		return NewAzBlobStore(opts, logger)
	default:
		return nil, fmt.Errorf("%w: context store type %q", rwerrors.ErrUnsupported, cfg.Type)
	}
}

var storeKeyPattern = regexp.MustCompile(`^#:\((\S+?)\)::(.*)$`)

// ParseStoreKey splits a `#:(store)::key` reference. Plain keys return an
// empty store name.
func ParseStoreKey(key string) (store, rest string) {
	if m := storeKeyPattern.FindStringSubmatch(key); m != nil {
		return m[1], m[2]
	}
	return "", key
}

func encodeValue(v any) ([]byte, error) {
	data, err := xjson.Marshal(v)
	if err != nil {
		return nil, rwerrors.InvalidData("context value is not serialisable: %v", err)
	}
	return data, nil
}

func decodeValue(data []byte) (any, error) {
	var v any
	if err := xjson.Unmarshal(data, &v); err != nil {
		return nil, rwerrors.InvalidData("corrupt context value: %v", err)
	}
	return v, nil
}

func activeSet(scopes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(scopes)+1)
	for _, s := range scopes {
		set[s] = struct{}{}
	}
	set[GlobalScope] = struct{}{}
	return set
}
