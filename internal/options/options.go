// Package options is the process-wide key/value configuration storage the
// feed registry keeps its per-feed secrets in.
package options

import (
	"context"
	"errors"
)

// ErrEmptyValue is returned when asked to store an empty value.
var ErrEmptyValue = errors.New("options: empty value")

// Store persists string options.
type Store interface {
	// Get returns the stored value and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// CreateIfAbsent stores value under key only if the key is not set yet and
	// returns whichever value is stored afterwards. Two concurrent callers
	// always observe the same winner.
	CreateIfAbsent(ctx context.Context, key, value string) (string, error)
}
