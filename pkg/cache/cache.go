package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Service is a key/value cache. Values are stored as JSON; Get decodes into dest.
type Service interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
	Exists(ctx context.Context, key string) (bool, error)
	Close() error
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result for ttl. Cache failures fall through to load.
func GetOrLoad[T any](ctx context.Context, c Service, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, bool, error) {
	var v T
	if err := c.Get(ctx, key, &v); err == nil {
		return v, true, nil
	}

	v, err := load(ctx)
	if err != nil {
		return v, false, err
	}
	_ = c.Set(ctx, key, v, ttl)
	return v, false, nil
}

func encode(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	}
	return json.Marshal(value)
}

func decode(data []byte, dest any) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, dest)
}
