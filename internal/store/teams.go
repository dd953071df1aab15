package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskboard/api/internal/util"
)

// CreateTeam inserts the team and makes its owner the first member.
func (s *PostgresStore) CreateTeam(ctx context.Context, team Team) (Team, error) {
	if team.ID == "" {
		team.ID = util.NewID("team")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Team{}, fmt.Errorf("begin create team: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO teams (id, name, owner_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, team.ID, team.Name, team.OwnerID).Scan(&team.CreatedAt, &team.UpdatedAt)
	if err != nil {
		return Team{}, fmt.Errorf("insert team: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, team.ID, team.OwnerID); err != nil {
		return Team{}, fmt.Errorf("insert team owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Team{}, fmt.Errorf("commit create team: %w", err)
	}
	return team, nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (Team, error) {
	var t Team
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT id, name, owner_id, created_at, updated_at FROM teams WHERE id=$1`, teamID).
			Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	})
	if err != nil {
		return Team{}, err
	}
	return t, nil
}

func (s *PostgresStore) ListTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	var teams []Team
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT t.id, t.name, t.owner_id, t.created_at, t.updated_at
			FROM teams t
			JOIN team_members tm ON tm.team_id = t.id
			WHERE tm.user_id = $1
			ORDER BY t.created_at, t.id
		`, userID)
		if err != nil {
			return fmt.Errorf("list teams: %w", err)
		}
		defer rows.Close()

		teams = make([]Team, 0)
		for rows.Next() {
			var t Team
			if err := rows.Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt); err != nil {
				return fmt.Errorf("scan team: %w", err)
			}
			teams = append(teams, t)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate teams: %w", err)
		}
		return nil
	})
	return teams, err
}

func (s *PostgresStore) RenameTeam(ctx context.Context, teamID, name string) (Team, error) {
	var t Team
	err := s.db.QueryRowContext(ctx, `
		UPDATE teams SET name=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, name, owner_id, created_at, updated_at
	`, teamID, name).Scan(&t.ID, &t.Name, &t.OwnerID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Team{}, err
	}
	return t, nil
}

// TeamRole returns the user's role in the team, or "" for non-members.
func (s *PostgresStore) TeamRole(ctx context.Context, teamID, userID string) (string, error) {
	var role string
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT role FROM team_members WHERE team_id=$1 AND user_id=$2`, teamID, userID).Scan(&role)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read team role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListTeamMembers(ctx context.Context, teamID string) ([]TeamMember, error) {
	var members []TeamMember
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT tm.team_id, tm.user_id, u.display_name, u.email, tm.role
			FROM team_members tm
			JOIN users u ON u.id = tm.user_id
			WHERE tm.team_id = $1
			ORDER BY tm.created_at, tm.user_id
		`, teamID)
		if err != nil {
			return fmt.Errorf("list team members: %w", err)
		}
		defer rows.Close()

		members = make([]TeamMember, 0)
		for rows.Next() {
			var m TeamMember
			if err := rows.Scan(&m.TeamID, &m.UserID, &m.DisplayName, &m.Email, &m.Role); err != nil {
				return fmt.Errorf("scan team member: %w", err)
			}
			members = append(members, m)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate team members: %w", err)
		}
		return nil
	})
	return members, err
}

// AddTeamMember is a no-op when the user is already a member.
func (s *PostgresStore) AddTeamMember(ctx context.Context, teamID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, teamID, userID, role)
	if err != nil {
		return fmt.Errorf("add team member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTeamMember(ctx context.Context, teamID, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM team_members WHERE team_id=$1 AND user_id=$2`, teamID, userID)
	if err != nil {
		return fmt.Errorf("remove team member: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) ListTeamProjects(ctx context.Context, teamID string) ([]Project, error) {
	var items []Project
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.team_id=$1 ORDER BY p.created_at, p.id`, teamID)
		if err != nil {
			return fmt.Errorf("list team projects: %w", err)
		}
		defer rows.Close()
		items, err = scanProjects(rows)
		return err
	})
	return items, err
}

// SetProjectTeam moves a project into a team; an empty teamID detaches it.
func (s *PostgresStore) SetProjectTeam(ctx context.Context, projectID, teamID string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects p
		SET team_id=NULLIF($2, ''), updated_at=NOW()
		WHERE p.id=$1
		RETURNING `+projectColumns, projectID, teamID))
}
