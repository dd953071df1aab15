package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// inviteSeparator joins email and token in the per-project sorted set.
const inviteSeparator = "\x1f"

type ProjectInvite struct {
	ProjectID string    `json:"projectId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	InvitedBy string    `json:"invitedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateProjectInvite issues a one-time invite link and records it in the
// project's pending set, scored by expiry.
func (s *Store) CreateProjectInvite(ctx context.Context, projectID, email, invitedBy string, ttl time.Duration) (ProjectInvite, error) {
	invite := ProjectInvite{
		ProjectID: projectID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		InvitedBy: invitedBy,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	payload, err := json.Marshal(invite)
	if err != nil {
		return ProjectInvite{}, fmt.Errorf("marshal invite: %w", err)
	}
	token, err := s.IssueLink(ctx, LinkProjectInvite, string(payload), ttl)
	if err != nil {
		return ProjectInvite{}, err
	}
	invite.Token = token

	err = s.client.ZAdd(ctx, s.key("project-invites", projectID), redis.Z{
		Score:  float64(invite.ExpiresAt.UnixMilli()),
		Member: invite.Email + inviteSeparator + token,
	}).Err()
	if err != nil {
		return ProjectInvite{}, fmt.Errorf("record invite: %w", err)
	}
	return invite, nil
}

// ListProjectInvites prunes expired entries and returns the pending ones,
// soonest expiry first.
func (s *Store) ListProjectInvites(ctx context.Context, projectID string) ([]ProjectInvite, error) {
	setKey := s.key("project-invites", projectID)
	now := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.client.ZRemRangeByScore(ctx, setKey, "-inf", now).Err(); err != nil {
		return nil, fmt.Errorf("prune invites: %w", err)
	}

	entries, err := s.client.ZRangeWithScores(ctx, setKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list invites: %w", err)
	}
	invites := make([]ProjectInvite, 0, len(entries))
	for _, entry := range entries {
		member, _ := entry.Member.(string)
		email, token, ok := strings.Cut(member, inviteSeparator)
		if !ok {
			continue
		}
		invites = append(invites, ProjectInvite{
			ProjectID: projectID,
			Email:     email,
			Token:     token,
			ExpiresAt: time.UnixMilli(int64(entry.Score)).UTC(),
		})
	}
	return invites, nil
}

// AcceptProjectInvite consumes the invite when it was issued to email.
func (s *Store) AcceptProjectInvite(ctx context.Context, token, email string) (ProjectInvite, error) {
	raw, err := s.PeekLink(ctx, LinkProjectInvite, token)
	if err != nil {
		return ProjectInvite{}, err
	}
	var invite ProjectInvite
	if err := json.Unmarshal([]byte(raw), &invite); err != nil {
		return ProjectInvite{}, fmt.Errorf("unmarshal invite: %w", err)
	}
	if !strings.EqualFold(invite.Email, strings.TrimSpace(email)) {
		return ProjectInvite{}, ErrEmailMismatch
	}
	if _, err := s.ConsumeLink(ctx, LinkProjectInvite, token); err != nil {
		return ProjectInvite{}, err
	}
	invite.Token = token

	member := invite.Email + inviteSeparator + token
	if err := s.client.ZRem(ctx, s.key("project-invites", invite.ProjectID), member).Err(); err != nil {
		return ProjectInvite{}, fmt.Errorf("remove accepted invite: %w", err)
	}
	return invite, nil
}
