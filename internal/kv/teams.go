package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type TeamInvite struct {
	TeamID    string    `json:"teamId"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	InvitedBy string    `json:"invitedBy"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Store) CreateTeamInvite(ctx context.Context, teamID, email, invitedBy string, ttl time.Duration) (TeamInvite, error) {
	invite := TeamInvite{
		TeamID:    teamID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		InvitedBy: invitedBy,
		ExpiresAt: s.now().Add(ttl).UTC(),
	}
	payload, err := json.Marshal(invite)
	if err != nil {
		return TeamInvite{}, fmt.Errorf("marshal team invite: %w", err)
	}
	token, err := s.IssueLink(ctx, LinkTeamInvite, string(payload), ttl)
	if err != nil {
		return TeamInvite{}, err
	}
	invite.Token = token
	return invite, nil
}

// AcceptTeamInvite consumes the invite when it was issued to email for teamID.
// A token for another team is reported as ErrNotFound and left in place.
func (s *Store) AcceptTeamInvite(ctx context.Context, teamID, token, email string) (TeamInvite, error) {
	raw, err := s.PeekLink(ctx, LinkTeamInvite, token)
	if err != nil {
		return TeamInvite{}, err
	}
	var invite TeamInvite
	if err := json.Unmarshal([]byte(raw), &invite); err != nil {
		return TeamInvite{}, fmt.Errorf("unmarshal team invite: %w", err)
	}
	if invite.TeamID != teamID {
		return TeamInvite{}, ErrNotFound
	}
	if !strings.EqualFold(invite.Email, strings.TrimSpace(email)) {
		return TeamInvite{}, ErrEmailMismatch
	}
	if _, err := s.ConsumeLink(ctx, LinkTeamInvite, token); err != nil {
		return TeamInvite{}, err
	}
	invite.Token = token
	return invite, nil
}
