// Package watermark persists the time of the last sync that did real work.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrNotFound = errors.New("watermark not found")

// Store is a durable key/value slot for watermarks. Values are kept with millisecond
// precision.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	// Read returns ErrNotFound when the key has never been written.
	Read(ctx context.Context, key string) (time.Time, error)
	Write(ctx context.Context, key string, t time.Time) error
	Close() error
}

// encode renders a watermark as epoch milliseconds, the format the sync has always stored.
func encode(t time.Time) []byte {
	return []byte(strconv.FormatInt(t.UnixMilli(), 10))
}

func decode(data []byte) (time.Time, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode watermark %q: %w", string(data), err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
