package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"taskboard/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureUser returns the user with the given email, creating it when missing.
func (s *PostgresStore) EnsureUser(ctx context.Context, email, displayName string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, LOWER($3))
		ON CONFLICT (email) DO UPDATE SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name)
		RETURNING id, display_name, email, created_at
	`, util.NewID("usr"), displayName, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE id=$1`, userID).
			Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT id, display_name, email, created_at FROM users WHERE email=LOWER($1)`, email).
			Scan(&user.ID, &user.DisplayName, &user.Email, &user.CreatedAt)
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateProject inserts the project and makes its owner the first member.
func (s *PostgresStore) CreateProject(ctx context.Context, project Project) (Project, error) {
	if project.ID == "" {
		project.ID = util.NewID("prj")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, fmt.Errorf("begin create project: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id, team_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING max_position, created_at, updated_at
	`, project.ID, project.Name, project.Description, project.OwnerID, project.TeamID).Scan(&project.MaxPosition, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, project.ID, project.OwnerID); err != nil {
		return Project{}, fmt.Errorf("insert project owner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Project{}, fmt.Errorf("commit create project: %w", err)
	}
	return project, nil
}

const projectColumns = `p.id, p.name, p.description, p.owner_id, COALESCE(p.team_id, ''), p.max_position, p.created_at, p.updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &p.TeamID, &p.MaxPosition, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Project{}, err
	}
	return p, nil
}

func scanProjects(rows *sql.Rows) ([]Project, error) {
	items := make([]Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	var p Project
	err := retryRead(ctx, func(ctx context.Context) error {
		var err error
		p, err = scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects p WHERE p.id=$1`, projectID))
		return err
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	var items []Project
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+projectColumns+`
			FROM projects p
			JOIN project_members pm ON pm.project_id = p.id
			WHERE pm.user_id = $1
			ORDER BY p.created_at, p.id
		`, userID)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		defer rows.Close()

		items, err = scanProjects(rows)
		return err
	})
	return items, err
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID, name, description string) (Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects p
		SET name=$2, description=$3, updated_at=NOW()
		WHERE p.id=$1
		RETURNING `+projectColumns, projectID, name, description))
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRow(res)
}

// AddProjectMember is a no-op when the user is already a member.
func (s *PostgresStore) AddProjectMember(ctx context.Context, projectID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("add project member: %w", err)
	}
	return nil
}

// ProjectRole returns the user's role in the project, or "" for non-members.
func (s *PostgresStore) ProjectRole(ctx context.Context, projectID, userID string) (string, error) {
	var role string
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT role FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID).Scan(&role)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read project role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]Member, error) {
	var members []Member
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT pm.project_id, pm.user_id, u.display_name, u.email, pm.role
			FROM project_members pm
			JOIN users u ON u.id = pm.user_id
			WHERE pm.project_id = $1
			ORDER BY pm.created_at, pm.user_id
		`, projectID)
		if err != nil {
			return fmt.Errorf("list project members: %w", err)
		}
		defer rows.Close()

		members = make([]Member, 0)
		for rows.Next() {
			var m Member
			if err := rows.Scan(&m.ProjectID, &m.UserID, &m.DisplayName, &m.Email, &m.Role); err != nil {
				return fmt.Errorf("scan project member: %w", err)
			}
			members = append(members, m)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate project members: %w", err)
		}
		return nil
	})
	return members, err
}

func (s *PostgresStore) GetList(ctx context.Context, listID string) (List, error) {
	var l List
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, project_id, name, position, max_position, created_at, updated_at
			FROM lists
			WHERE id=$1
		`, listID).Scan(&l.ID, &l.ProjectID, &l.Name, &l.Position, &l.MaxPosition, &l.CreatedAt, &l.UpdatedAt)
	})
	if err != nil {
		return List{}, err
	}
	return l, nil
}

// ListLists returns the project's lists in display order.
func (s *PostgresStore) ListLists(ctx context.Context, projectID string) ([]List, error) {
	var items []List
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, project_id, name, position, max_position, created_at, updated_at
			FROM lists
			WHERE project_id=$1
			ORDER BY position, id
		`, projectID)
		if err != nil {
			return fmt.Errorf("list lists: %w", err)
		}
		defer rows.Close()

		items = make([]List, 0)
		for rows.Next() {
			var l List
			if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Position, &l.MaxPosition, &l.CreatedAt, &l.UpdatedAt); err != nil {
				return fmt.Errorf("scan list: %w", err)
			}
			items = append(items, l)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate lists: %w", err)
		}
		return nil
	})
	return items, err
}

func (s *PostgresStore) RenameList(ctx context.Context, listID, name string) (List, error) {
	var l List
	err := s.db.QueryRowContext(ctx, `
		UPDATE lists SET name=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING id, project_id, name, position, max_position, created_at, updated_at
	`, listID, name).Scan(&l.ID, &l.ProjectID, &l.Name, &l.Position, &l.MaxPosition, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return List{}, err
	}
	return l, nil
}

const taskColumns = `t.id, t.list_id, t.project_id, t.name, t.description, t.due_date, t.position, COALESCE(t.created_by, ''), t.created_at, t.updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var t Task
	var due sql.NullTime
	if err := row.Scan(&t.ID, &t.ListID, &t.ProjectID, &t.Name, &t.Description, &due, &t.Position, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, err
	}
	if due.Valid {
		at := due.Time
		t.DueDate = &at
	}
	t.MemberIDs = []string{}
	t.LabelIDs = []string{}
	return t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := retryRead(ctx, func(ctx context.Context) error {
		var err error
		t, err = scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id=$1`, taskID))
		return err
	})
	if err != nil {
		return Task{}, err
	}
	tasks := []Task{t}
	if err := s.attachTaskRelations(ctx, tasks); err != nil {
		return Task{}, err
	}
	return tasks[0], nil
}

// ListTasks returns the list's tasks in display order with members and labels.
func (s *PostgresStore) ListTasks(ctx context.Context, listID string) ([]Task, error) {
	var items []Task
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.list_id=$1 ORDER BY t.position, t.id`, listID)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		defer rows.Close()

		items = make([]Task, 0)
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return fmt.Errorf("scan task: %w", err)
			}
			items = append(items, t)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate tasks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.attachTaskRelations(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) attachTaskRelations(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	ids := make([]string, len(tasks))
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		index[t.ID] = i
	}

	relations := []struct {
		query string
		add   func(i int, id string)
	}{
		{
			query: `SELECT task_id, user_id FROM task_members WHERE task_id = ANY($1) ORDER BY created_at, user_id`,
			add:   func(i int, id string) { tasks[i].MemberIDs = append(tasks[i].MemberIDs, id) },
		},
		{
			query: `SELECT task_id, label_id FROM task_labels WHERE task_id = ANY($1) ORDER BY label_id`,
			add:   func(i int, id string) { tasks[i].LabelIDs = append(tasks[i].LabelIDs, id) },
		},
	}
	for _, rel := range relations {
		rows, err := s.db.QueryContext(ctx, rel.query, ids)
		if err != nil {
			return fmt.Errorf("load task relations: %w", err)
		}
		for rows.Next() {
			var taskID, id string
			if err := rows.Scan(&taskID, &id); err != nil {
				rows.Close()
				return fmt.Errorf("scan task relation: %w", err)
			}
			if i, ok := index[taskID]; ok {
				rel.add(i, id)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return fmt.Errorf("iterate task relations: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, patch TaskPatch) (Task, error) {
	var due any
	switch {
	case patch.ClearDue:
		due = nil
	case patch.DueDate != nil:
		due = *patch.DueDate
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			name = COALESCE($2, name),
			description = COALESCE($3, description),
			due_date = CASE WHEN $4::boolean THEN $5::timestamptz ELSE COALESCE($5::timestamptz, due_date) END,
			updated_at = NOW()
		WHERE id=$1
	`, taskID, patch.Name, patch.Description, patch.ClearDue, due)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := requireRow(res); err != nil {
		return Task{}, err
	}
	return s.GetTask(ctx, taskID)
}

// AddTaskMember is idempotent; a user appears at most once per task.
func (s *PostgresStore) AddTaskMember(ctx context.Context, taskID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_members (task_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (task_id, user_id) DO NOTHING
	`, taskID, userID)
	if err != nil {
		return fmt.Errorf("add task member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveTaskMember(ctx context.Context, taskID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_members WHERE task_id=$1 AND user_id=$2`, taskID, userID); err != nil {
		return fmt.Errorf("remove task member: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateLabel(ctx context.Context, label Label) (Label, error) {
	if label.ID == "" {
		label.ID = util.NewID("lbl")
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO labels (id, project_id, name, color)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, label.ID, label.ProjectID, label.Name, label.Color).Scan(&label.CreatedAt)
	if err != nil {
		return Label{}, fmt.Errorf("insert label: %w", err)
	}
	return label, nil
}

func (s *PostgresStore) GetLabel(ctx context.Context, labelID string) (Label, error) {
	var l Label
	err := retryRead(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT id, project_id, name, color, created_at FROM labels WHERE id=$1`, labelID).
			Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt)
	})
	if err != nil {
		return Label{}, err
	}
	return l, nil
}

func (s *PostgresStore) ListLabels(ctx context.Context, projectID string) ([]Label, error) {
	var labels []Label
	err := retryRead(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, project_id, name, color, created_at
			FROM labels
			WHERE project_id=$1
			ORDER BY created_at, id
		`, projectID)
		if err != nil {
			return fmt.Errorf("list labels: %w", err)
		}
		defer rows.Close()

		labels = make([]Label, 0)
		for rows.Next() {
			var l Label
			if err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt); err != nil {
				return fmt.Errorf("scan label: %w", err)
			}
			labels = append(labels, l)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate labels: %w", err)
		}
		return nil
	})
	return labels, err
}

func (s *PostgresStore) UpdateLabel(ctx context.Context, labelID, name, color string) (Label, error) {
	var l Label
	err := s.db.QueryRowContext(ctx, `
		UPDATE labels SET name=$2, color=$3
		WHERE id=$1
		RETURNING id, project_id, name, color, created_at
	`, labelID, name, color).Scan(&l.ID, &l.ProjectID, &l.Name, &l.Color, &l.CreatedAt)
	if err != nil {
		return Label{}, err
	}
	return l, nil
}

func (s *PostgresStore) DeleteLabel(ctx context.Context, labelID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE id=$1`, labelID)
	if err != nil {
		return fmt.Errorf("delete label: %w", err)
	}
	return requireRow(res)
}

// AssignLabel attaches a label to a task. Both must belong to the same
// project; otherwise nothing is written and sql.ErrNoRows is returned.
func (s *PostgresStore) AssignLabel(ctx context.Context, taskID, labelID string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO task_labels (task_id, label_id)
		SELECT t.id, l.id
		FROM tasks t
		JOIN labels l ON l.project_id = t.project_id
		WHERE t.id = $1 AND l.id = $2
		ON CONFLICT (task_id, label_id) DO NOTHING
	`, taskID, labelID)
	if err != nil {
		return fmt.Errorf("assign label: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var attached bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM task_labels WHERE task_id=$1 AND label_id=$2)`, taskID, labelID).Scan(&attached); err != nil {
			return fmt.Errorf("check label assignment: %w", err)
		}
		if !attached {
			return sql.ErrNoRows
		}
	}
	return nil
}

func (s *PostgresStore) RemoveLabel(ctx context.Context, taskID, labelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM task_labels WHERE task_id=$1 AND label_id=$2`, taskID, labelID); err != nil {
		return fmt.Errorf("remove label: %w", err)
	}
	return nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
