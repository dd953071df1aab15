package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/api/internal/kv"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/store"
)

func codeOf(err error) string {
	_, code, _, _ := mapError(err)
	return code
}

func TestTeamMembershipGatesAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.GetTeam(ctx, outsider, "team_1"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for non-member, got %v", err)
	}
	payload, err := env.service.GetTeam(ctx, member, "team_1")
	if err != nil {
		t.Fatalf("GetTeam() error = %v", err)
	}
	if members, _ := payload["members"].([]store.TeamMember); len(members) != 2 {
		t.Fatalf("unexpected members %+v", payload["members"])
	}

	if _, err := env.service.RenameTeam(ctx, member, "team_1", "Platform"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for member rename, got %v", err)
	}
	team, err := env.service.RenameTeam(ctx, owner, "team_1", "  Platform ")
	if err != nil || team.Name != "Platform" {
		t.Fatalf("RenameTeam() = %+v, %v", team, err)
	}

	if _, err := env.service.CreateTeam(ctx, outsider, " "); statusOf(err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected validation error, got %v", err)
	}
	created, err := env.service.CreateTeam(ctx, outsider, "Design")
	if err != nil {
		t.Fatalf("CreateTeam() error = %v", err)
	}
	teams, err := env.service.ListTeams(ctx, outsider)
	if err != nil || len(teams) != 1 || teams[0].ID != created.ID {
		t.Fatalf("ListTeams() = %+v, %v", teams, err)
	}
}

func TestRemoveTeamMemberKeepsOwner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.service.RemoveTeamMember(ctx, member, "team_1", "usr_owner"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %v", err)
	}
	if err := env.service.RemoveTeamMember(ctx, owner, "team_1", "usr_owner"); statusOf(err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected owner removal to be rejected, got %v", err)
	}
	if err := env.service.RemoveTeamMember(ctx, owner, "team_1", "usr_member"); err != nil {
		t.Fatalf("RemoveTeamMember() error = %v", err)
	}
	if _, err := env.service.GetTeam(ctx, member, "team_1"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("removed member still sees the team: %v", err)
	}
}

func TestTeamProjects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.CreateProject(ctx, outsider, "Side", "", "team_1"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for a team the caller is not in, got %v", err)
	}
	project, err := env.service.CreateProject(ctx, member, "Roadmap", "", "team_1")
	if err != nil || project.TeamID != "team_1" {
		t.Fatalf("CreateProject() = %+v, %v", project, err)
	}

	moved, err := env.service.AddTeamProject(ctx, owner, "team_1", "prj_2")
	if err != nil || moved.TeamID != "team_1" {
		t.Fatalf("AddTeamProject() = %+v, %v", moved, err)
	}
	if _, err := env.service.AddTeamProject(ctx, member, "team_1", "prj_1"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 when the caller does not own the project, got %v", err)
	}

	if _, err := env.service.RemoveTeamProject(ctx, owner, "team_1", "prj_1"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for a project outside the team, got %v", err)
	}
	detached, err := env.service.RemoveTeamProject(ctx, owner, "team_1", "prj_2")
	if err != nil || detached.TeamID != "" {
		t.Fatalf("RemoveTeamProject() = %+v, %v", detached, err)
	}
}

func TestTeamInviteLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.CreateTeamInvite(ctx, outsider, "team_1", "x@example.com"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for non-member, got %v", err)
	}
	invite, err := env.service.CreateTeamInvite(ctx, owner, "team_1", "Outsider@Example.com")
	if err != nil {
		t.Fatalf("CreateTeamInvite() error = %v", err)
	}
	if len(env.mailer.sentTeam) != 1 || env.mailer.sentTeam[0].TeamName != "Team team_1" || env.mailer.sentTeam[0].Token != invite.Token {
		t.Fatalf("unexpected team mail %+v", env.mailer.sentTeam)
	}

	if _, err := env.service.AcceptTeamInvite(ctx, outsider, "team_2", invite.Token); codeOf(err) != "LINK_EXPIRED" {
		t.Fatalf("expected expired link for another team, got %v", err)
	}
	if _, err := env.service.AcceptTeamInvite(ctx, member, "team_1", invite.Token); !errors.Is(err, kv.ErrEmailMismatch) {
		t.Fatalf("expected email mismatch, got %v", err)
	}
	team, err := env.service.AcceptTeamInvite(ctx, outsider, "team_1", invite.Token)
	if err != nil || team.ID != "team_1" {
		t.Fatalf("AcceptTeamInvite() = %+v, %v", team, err)
	}
	if role, _ := env.store.TeamRole(ctx, "team_1", "usr_outsider"); role != "member" {
		t.Fatalf("role = %q, want member", role)
	}
	if _, err := env.service.AcceptTeamInvite(ctx, outsider, "team_1", invite.Token); codeOf(err) != "LINK_EXPIRED" {
		t.Fatalf("expected consumed token to be gone, got %v", err)
	}

	feed, err := env.service.ListNotifications(ctx, owner, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) == 0 || feed[0].Type != "TEAM_INVITE_ACCEPTED" {
		t.Fatalf("inviter was not notified: %+v", feed)
	}
}

func TestTeamAndProjectInvitesShareRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.CreateInvite(ctx, member, "prj_1", "a@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.CreateTeamInvite(ctx, member, "team_1", "b@example.com"); err != nil {
		t.Fatal(err)
	}
	_, err := env.service.CreateTeamInvite(ctx, member, "team_1", "c@example.com")
	if status, code, _, _ := mapError(err); status != http.StatusTooManyRequests || code != "RATE_LIMITED" {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestPublicProjectLink(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.service.PublicProjectLink(ctx, member, "prj_1"); statusOf(err) != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %v", err)
	}
	if _, err := env.service.PublicProjectLink(ctx, outsider, "prj_1"); statusOf(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for outsider, got %v", err)
	}
	link, err := env.service.PublicProjectLink(ctx, owner, "prj_1")
	if err != nil || link.Token == "" {
		t.Fatalf("PublicProjectLink() = %+v, %v", link, err)
	}
	again, err := env.service.PublicProjectLink(ctx, owner, "prj_1")
	if err != nil || again.Token != link.Token {
		t.Fatalf("expected the same live link, got %+v, %v", again, err)
	}

	project, err := env.service.ValidatePublicProjectLink(ctx, "prj_1", link.Token)
	if err != nil || project.ID != "prj_1" {
		t.Fatalf("ValidatePublicProjectLink() = %+v, %v", project, err)
	}
	if _, err := env.service.ValidatePublicProjectLink(ctx, "prj_2", link.Token); codeOf(err) != "LINK_EXPIRED" {
		t.Fatalf("expected link for another project to fail, got %v", err)
	}
	if _, err := env.service.ValidatePublicProjectLink(ctx, "prj_1", ""); statusOf(err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected validation error, got %v", err)
	}

	if _, err := env.service.AcceptPublicProjectLink(ctx, outsider, "prj_1", link.Token); err != nil {
		t.Fatalf("AcceptPublicProjectLink() error = %v", err)
	}
	if role, _ := env.store.ProjectRole(ctx, "prj_1", "usr_outsider"); role != "member" {
		t.Fatalf("role = %q, want member", role)
	}
	if _, err := env.service.ValidatePublicProjectLink(ctx, "prj_1", link.Token); err != nil {
		t.Fatalf("public link must survive use: %v", err)
	}
	feed, err := env.service.ListNotifications(ctx, owner, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) == 0 || feed[0].Type != "PUBLIC_LINK_JOINED" {
		t.Fatalf("owner was not notified: %+v", feed)
	}

	if err := env.service.RevokePublicProjectLink(ctx, owner, "prj_1"); err != nil {
		t.Fatalf("RevokePublicProjectLink() error = %v", err)
	}
	if _, err := env.service.AcceptPublicProjectLink(ctx, outsider, "prj_1", link.Token); codeOf(err) != "LINK_EXPIRED" {
		t.Fatalf("expected revoked link to fail, got %v", err)
	}
}

func TestMoveTaskStoreOutageIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	outage := &ordering.StoreError{Op: "read", Err: &pgconn.PgError{Code: "08006", Message: "connection failure"}}
	env.store.getTaskFn = func(context.Context, string) (store.Task, error) {
		return store.Task{}, outage
	}

	_, err := env.service.MoveTask(context.Background(), member, "tsk_1", ordering.MoveRequest{AboveID: "tsk_2"})
	if status, code, _, _ := mapError(err); status != http.StatusServiceUnavailable || code != "STORE_UNAVAILABLE" {
		t.Fatalf("expected 503 STORE_UNAVAILABLE, got %d %s (%v)", status, code, err)
	}
}
