package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"taskboard/api/internal/email"
	"taskboard/api/internal/kv"
	"taskboard/api/internal/rbac"
	"taskboard/api/internal/store"
)

// authorizeTeam mirrors authorize: non-members get 404.
func (s *Service) authorizeTeam(ctx context.Context, session Session, teamID string, action rbac.Action) error {
	role, err := s.store.TeamRole(ctx, teamID, session.UserID)
	if err != nil {
		return err
	}
	normalized := rbac.Normalize(role)
	if normalized == "" {
		return errTeamNotFound
	}
	if !rbac.Can(normalized, action) {
		return errForbidden
	}
	return nil
}

// Teams

func (s *Service) CreateTeam(ctx context.Context, session Session, name string) (store.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Team{}, validationError("name is required")
	}
	return s.store.CreateTeam(ctx, store.Team{Name: name, OwnerID: session.UserID})
}

func (s *Service) ListTeams(ctx context.Context, session Session) ([]store.Team, error) {
	return s.store.ListTeamsForUser(ctx, session.UserID)
}

// GetTeam returns the team with its members and projects.
func (s *Service) GetTeam(ctx context.Context, session Session, teamID string) (map[string]any, error) {
	if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionRead); err != nil {
		return nil, err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListTeamProjects(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"team": team, "members": members, "projects": projects}, nil
}

func (s *Service) RenameTeam(ctx context.Context, session Session, teamID, name string) (store.Team, error) {
	if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionManage); err != nil {
		return store.Team{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Team{}, validationError("name is required")
	}
	return s.store.RenameTeam(ctx, teamID, name)
}

// RemoveTeamMember drops a member from the team. The owner cannot be removed.
func (s *Service) RemoveTeamMember(ctx context.Context, session Session, teamID, userID string) error {
	if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionManage); err != nil {
		return err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.OwnerID == userID {
		return validationError("the owner of the team cannot be removed")
	}
	return s.store.RemoveTeamMember(ctx, teamID, userID)
}

// AddTeamProject moves one of the caller's projects into the team.
func (s *Service) AddTeamProject(ctx context.Context, session Session, teamID, projectID string) (store.Project, error) {
	if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionWrite); err != nil {
		return store.Project{}, err
	}
	if err := s.authorize(ctx, session, projectID, rbac.ActionManage); err != nil {
		return store.Project{}, err
	}
	return s.store.SetProjectTeam(ctx, projectID, teamID)
}

// RemoveTeamProject detaches a project from the team; the project itself is kept.
func (s *Service) RemoveTeamProject(ctx context.Context, session Session, teamID, projectID string) (store.Project, error) {
	if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionManage); err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if project.TeamID != teamID {
		return store.Project{}, errProjectNotFound
	}
	return s.store.SetProjectTeam(ctx, projectID, "")
}

func (s *Service) CreateTeamInvite(ctx context.Context, session Session, teamID, address string) (kv.TeamInvite, error) {
	if err := s.authorizeTeam(ctx, session, teamID, rbac.ActionInvite); err != nil {
		return kv.TeamInvite{}, err
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(address))
	if err != nil {
		return kv.TeamInvite{}, validationError("a valid email is required")
	}
	if err := s.allowInvite(ctx, session); err != nil {
		return kv.TeamInvite{}, err
	}
	invite, err := s.kv.CreateTeamInvite(ctx, teamID, addr.Address, session.UserID, s.cfg.InviteTTL)
	if err != nil {
		return kv.TeamInvite{}, err
	}
	s.mailTeamInvite(ctx, session, invite)
	return invite, nil
}

func (s *Service) mailTeamInvite(ctx context.Context, session Session, invite kv.TeamInvite) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	team, err := s.store.GetTeam(ctx, invite.TeamID)
	if err != nil {
		s.logger.Warn("load team for invite mail failed", "team_id", invite.TeamID, "error", err)
		return
	}
	err = s.mailer.SendTeamInvite(email.TeamInvite{
		To:         invite.Email,
		SenderName: session.UserName,
		TeamID:     team.ID,
		TeamName:   team.Name,
		Token:      invite.Token,
		ExpiresAt:  invite.ExpiresAt,
	})
	if err != nil {
		s.logger.Warn("send team invite mail failed", "team_id", invite.TeamID, "error", err)
	}
}

// AcceptTeamInvite consumes the token and adds the caller to the team.
func (s *Service) AcceptTeamInvite(ctx context.Context, session Session, teamID, token string) (store.Team, error) {
	if strings.TrimSpace(token) == "" {
		return store.Team{}, validationError("token is required")
	}
	invite, err := s.kv.AcceptTeamInvite(ctx, teamID, token, session.Email)
	if errors.Is(err, kv.ErrNotFound) {
		return store.Team{}, errLinkExpired
	}
	if err != nil {
		return store.Team{}, err
	}
	if err := s.store.AddTeamMember(ctx, teamID, session.UserID, string(rbac.RoleMember)); err != nil {
		return store.Team{}, err
	}
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return store.Team{}, err
	}
	if invite.InvitedBy != "" && invite.InvitedBy != session.UserID {
		s.notify(ctx, invite.InvitedBy, "TEAM_INVITE_ACCEPTED", "", fmt.Sprintf("%s joined team %q", session.UserName, team.Name))
	}
	return team, nil
}

// Public project links

// PublicProjectLink returns the project's shareable join link, issuing one
// when none is live. Only the owner may see it.
func (s *Service) PublicProjectLink(ctx context.Context, session Session, projectID string) (kv.PublicLink, error) {
	if err := s.authorize(ctx, session, projectID, rbac.ActionManage); err != nil {
		return kv.PublicLink{}, err
	}
	return s.kv.PublicProjectLink(ctx, projectID, s.cfg.PublicLinkTTL)
}

func (s *Service) RevokePublicProjectLink(ctx context.Context, session Session, projectID string) error {
	if err := s.authorize(ctx, session, projectID, rbac.ActionManage); err != nil {
		return err
	}
	return s.kv.RevokePublicProjectLink(ctx, projectID)
}

// ValidatePublicProjectLink checks a link without using it up and returns the
// project it leads to.
func (s *Service) ValidatePublicProjectLink(ctx context.Context, projectID, token string) (store.Project, error) {
	if err := s.checkPublicLink(ctx, projectID, token); err != nil {
		return store.Project{}, err
	}
	return s.store.GetProject(ctx, projectID)
}

// AcceptPublicProjectLink adds the caller as a member. Unlike invites the link
// is not bound to an email and stays valid for others.
func (s *Service) AcceptPublicProjectLink(ctx context.Context, session Session, projectID, token string) (store.Project, error) {
	if err := s.checkPublicLink(ctx, projectID, token); err != nil {
		return store.Project{}, err
	}
	role, err := s.store.ProjectRole(ctx, projectID, session.UserID)
	if err != nil {
		return store.Project{}, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return store.Project{}, err
	}
	if role != "" {
		return project, nil
	}
	if err := s.store.AddProjectMember(ctx, projectID, session.UserID, string(rbac.RoleMember)); err != nil {
		return store.Project{}, err
	}
	if project.OwnerID != "" && project.OwnerID != session.UserID {
		s.notify(ctx, project.OwnerID, "PUBLIC_LINK_JOINED", projectID, fmt.Sprintf("%s joined %q through the public link", session.UserName, project.Name))
	}
	return project, nil
}

func (s *Service) checkPublicLink(ctx context.Context, projectID, token string) error {
	if strings.TrimSpace(token) == "" {
		return validationError("link is required")
	}
	err := s.kv.CheckPublicProjectLink(ctx, projectID, token)
	if errors.Is(err, kv.ErrNotFound) {
		return errLinkExpired
	}
	return err
}
