// Package kvstore is the durable key-value capability behind the signal store.
//
// Values are stored as strings and typed on read. Apply and ApplyIf are
// atomic across all of their edits, which is the only consistency guarantee
// callers rely on.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrTypeMismatch is returned when a stored value can't be read as the requested type
var ErrTypeMismatch = errors.New("kvstore: type mismatch")

// Store is a durable key-value store
type Store interface {
	// Lookup returns the raw value for key and whether it exists
	Lookup(ctx context.Context, key string) (string, bool, error)

	// Apply writes all edits atomically
	Apply(ctx context.Context, edits ...Edit) error

	// ApplyIf writes all edits atomically, but only while key still holds
	// want. It reports whether the edits were written.
	ApplyIf(ctx context.Context, key, want string, edits ...Edit) (bool, error)
}

// Edit sets one key
type Edit struct {
	Key   string
	Value string
}

func SetBool(key string, v bool) Edit {
	return Edit{Key: key, Value: strconv.FormatBool(v)}
}

func SetInt(key string, v int) Edit {
	return Edit{Key: key, Value: strconv.Itoa(v)}
}

func SetInt64(key string, v int64) Edit {
	return Edit{Key: key, Value: strconv.FormatInt(v, 10)}
}

func SetString(key, v string) Edit {
	return Edit{Key: key, Value: v}
}

// GetBool returns the boolean at key, or def when the key is absent
func GetBool(ctx context.Context, s Store, key string, def bool) (bool, error) {
	raw, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("%w: %s is %q, not a bool", ErrTypeMismatch, key, raw)
	}
	return v, nil
}

// GetInt returns the integer at key, or def when the key is absent
func GetInt(ctx context.Context, s Store, key string, def int) (int, error) {
	raw, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%w: %s is %q, not an int", ErrTypeMismatch, key, raw)
	}
	return v, nil
}

// GetInt64 returns the 64-bit integer at key, or def when the key is absent
func GetInt64(ctx context.Context, s Store, key string, def int64) (int64, error) {
	raw, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%w: %s is %q, not an int64", ErrTypeMismatch, key, raw)
	}
	return v, nil
}

// GetString returns the string at key, or def when the key is absent
func GetString(ctx context.Context, s Store, key, def string) (string, error) {
	raw, ok, err := s.Lookup(ctx, key)
	if err != nil || !ok {
		return def, err
	}
	return raw, nil
}
