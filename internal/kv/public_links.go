package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PublicLink lets anyone holding the token join a project until it expires.
type PublicLink struct {
	ProjectID string    `json:"projectId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublicProjectLink returns the project's live public link, issuing a new one
// with the given ttl when none exists.
func (s *Store) PublicProjectLink(ctx context.Context, projectID string, ttl time.Duration) (PublicLink, error) {
	pointer := s.key("public-project-link", projectID)
	token, err := s.client.Get(ctx, pointer).Result()
	switch {
	case err == nil:
		left, err := s.client.PTTL(ctx, s.key(string(LinkPublicProject), token)).Result()
		if err != nil {
			return PublicLink{}, fmt.Errorf("read public link ttl: %w", err)
		}
		// Negative values mean the link itself is gone or has no expiry.
		if left > 0 {
			return PublicLink{ProjectID: projectID, Token: token, ExpiresAt: s.now().Add(left).UTC()}, nil
		}
	case !errors.Is(err, redis.Nil):
		return PublicLink{}, fmt.Errorf("read public link: %w", err)
	}

	token, err = s.IssueLink(ctx, LinkPublicProject, projectID, ttl)
	if err != nil {
		return PublicLink{}, err
	}
	if err := s.client.Set(ctx, pointer, token, ttl).Err(); err != nil {
		return PublicLink{}, fmt.Errorf("record public link: %w", err)
	}
	return PublicLink{ProjectID: projectID, Token: token, ExpiresAt: s.now().Add(ttl).UTC()}, nil
}

// CheckPublicProjectLink reports ErrNotFound unless token is a live public
// link for projectID. The link stays valid for further use.
func (s *Store) CheckPublicProjectLink(ctx context.Context, projectID, token string) error {
	owner, err := s.PeekLink(ctx, LinkPublicProject, token)
	if err != nil {
		return err
	}
	if owner != projectID {
		return ErrNotFound
	}
	return nil
}

// RevokePublicProjectLink invalidates the project's public link, if any.
func (s *Store) RevokePublicProjectLink(ctx context.Context, projectID string) error {
	pointer := s.key("public-project-link", projectID)
	token, err := s.client.GetDel(ctx, pointer).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke public link: %w", err)
	}
	if err := s.client.Del(ctx, s.key(string(LinkPublicProject), token)).Err(); err != nil {
		return fmt.Errorf("revoke public link: %w", err)
	}
	return nil
}
