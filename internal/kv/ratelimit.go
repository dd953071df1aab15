package kv

import (
	"context"
	"fmt"
	"time"
)

// Allow counts one hit against key and reports whether the count is still
// within limit for the current window. The window starts at the first hit.
func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	counter := s.key("ratelimit", key)
	count, err := s.client.Incr(ctx, counter).Result()
	if err != nil {
		return false, fmt.Errorf("count %s: %w", key, err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, counter, window).Err(); err != nil {
			return false, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	return count <= int64(limit), nil
}
