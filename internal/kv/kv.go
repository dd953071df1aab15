// Package kv keeps short-lived state in Redis: invite links, notification
// feeds and rate limit counters. Nothing here is the source of truth for
// projects, lists or tasks.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound      = errors.New("kv: not found")
	ErrEmailMismatch = errors.New("kv: invite was issued to another email")
)

type Store struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// Connect parses redisURL and checks that the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func New(client *redis.Client) *Store {
	return &Store{client: client, prefix: "taskboard:", now: time.Now}
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, "-")
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
