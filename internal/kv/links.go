package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// LinkKind namespaces one-time link tokens.
type LinkKind string

const (
	LinkProjectInvite LinkKind = "project-invite"
	LinkTeamInvite    LinkKind = "team-invite"
	// LinkPublicProject tokens are shared openly and are not consumed on use.
	LinkPublicProject LinkKind = "public-project"
)

// IssueLink stores value under a fresh token that expires after ttl.
func (s *Store) IssueLink(ctx context.Context, kind LinkKind, value string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, s.key(string(kind), token), value, ttl).Err(); err != nil {
		return "", fmt.Errorf("issue %s link: %w", kind, err)
	}
	return token, nil
}

// PeekLink reads a link without consuming it.
func (s *Store) PeekLink(ctx context.Context, kind LinkKind, token string) (string, error) {
	value, err := s.client.Get(ctx, s.key(string(kind), token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read %s link: %w", kind, err)
	}
	return value, nil
}

// ConsumeLink returns the link's value and deletes it; a second call fails
// with ErrNotFound.
func (s *Store) ConsumeLink(ctx context.Context, kind LinkKind, token string) (string, error) {
	value, err := s.client.GetDel(ctx, s.key(string(kind), token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume %s link: %w", kind, err)
	}
	return value, nil
}
