package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"taskboard/api/internal/ordering"
	"taskboard/api/internal/util"
)

// sequenceTable names the tables behind one ordered sequence: rows of
// itemTable belong to a row of containerTable through containerColumn.
type sequenceTable struct {
	itemTable       string
	containerTable  string
	containerColumn string
}

var (
	listTable = sequenceTable{itemTable: "lists", containerTable: "projects", containerColumn: "project_id"}
	taskTable = sequenceTable{itemTable: "tasks", containerTable: "lists", containerColumn: "list_id"}
)

type sequenceQueries struct {
	item            string
	items           string
	maxPosition     string
	lockContainer   string
	savePosition    string
	saveMaxPosition string
	delete          string
}

func (t sequenceTable) queries() sequenceQueries {
	return sequenceQueries{
		item:            fmt.Sprintf(`SELECT id, %s, position FROM %s WHERE id=$1`, t.containerColumn, t.itemTable),
		items:           fmt.Sprintf(`SELECT id, %s, position FROM %s WHERE %s=$1 ORDER BY position, id`, t.containerColumn, t.itemTable, t.containerColumn),
		maxPosition:     fmt.Sprintf(`SELECT COALESCE(MAX(position), 0) FROM %s WHERE %s=$1`, t.itemTable, t.containerColumn),
		lockContainer:   fmt.Sprintf(`SELECT id, max_position FROM %s WHERE id=$1 FOR UPDATE`, t.containerTable),
		savePosition:    fmt.Sprintf(`UPDATE %s SET position=$2, %s=$3, updated_at=NOW() WHERE id=$1`, t.itemTable, t.containerColumn),
		saveMaxPosition: fmt.Sprintf(`UPDATE %s SET max_position=$2 WHERE id=$1`, t.containerTable),
		delete:          fmt.Sprintf(`DELETE FROM %s WHERE id=$1`, t.itemTable),
	}
}

type insertFunc[T any] func(ctx context.Context, tx *sql.Tx, containerID string, position float64, data T) (T, error)

// SequenceStore implements ordering.Store on Postgres. Container rows are
// locked with SELECT ... FOR UPDATE, one id at a time in ascending order.
type SequenceStore[T any] struct {
	db      *sql.DB
	table   sequenceTable
	q       sequenceQueries
	insert  insertFunc[T]
	idOf    func(T) string
	options *sql.TxOptions
}

func NewListSequenceStore(db *sql.DB) *SequenceStore[List] {
	return &SequenceStore[List]{
		db:      db,
		table:   listTable,
		q:       listTable.queries(),
		insert:  insertList,
		idOf:    func(l List) string { return l.ID },
		options: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}
}

func NewTaskSequenceStore(db *sql.DB) *SequenceStore[Task] {
	return &SequenceStore[Task]{
		db:      db,
		table:   taskTable,
		q:       taskTable.queries(),
		insert:  insertTask,
		idOf:    func(t Task) string { return t.ID },
		options: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
	}
}

func (s *SequenceStore[T]) InTx(ctx context.Context, fn func(ctx context.Context, tx ordering.Tx[T]) error) error {
	tx, err := s.db.BeginTx(ctx, s.options)
	if err != nil {
		return &ordering.StoreError{Op: "begin " + s.table.itemTable + " tx", Err: err}
	}
	if err := fn(ctx, &sequenceTx[T]{tx: tx, store: s}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: commit %s positions: %v", ordering.ErrInvariantViolation, s.table.itemTable, err)
		}
		return &ordering.StoreError{Op: "commit " + s.table.itemTable + " tx", Err: err}
	}
	return nil
}

func (s *SequenceStore[T]) Items(ctx context.Context, containerID string) ([]ordering.Item, error) {
	var items []ordering.Item
	err := retryRead(ctx, func(ctx context.Context) error {
		exists, err := s.containerExists(ctx, containerID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s %s", ordering.ErrNotFound, s.table.containerTable, containerID)
		}
		items, err = scanItems(s.db.QueryContext(ctx, s.q.items, containerID))
		return err
	})
	if err != nil {
		return nil, s.wrap("list "+s.table.itemTable, err)
	}
	return items, nil
}

func (s *SequenceStore[T]) containerExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id=$1)`, s.table.containerTable)
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// wrap leaves domain errors alone and marks everything else as a store failure.
func (s *SequenceStore[T]) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ordering.ErrNotFound), errors.Is(err, ordering.ErrInvariantViolation), errors.Is(err, ordering.ErrInvalidRequest):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return unavailable(op, err)
}

type sequenceTx[T any] struct {
	tx    *sql.Tx
	store *SequenceStore[T]
}

func (t *sequenceTx[T]) Item(ctx context.Context, id string) (ordering.Item, error) {
	var item ordering.Item
	err := t.tx.QueryRowContext(ctx, t.store.q.item, id).Scan(&item.ID, &item.ContainerID, &item.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return ordering.Item{}, fmt.Errorf("%w: %s %s", ordering.ErrNotFound, singular(t.store.table.itemTable), id)
	}
	if err != nil {
		return ordering.Item{}, t.store.wrap("read "+singular(t.store.table.itemTable), err)
	}
	return item, nil
}

func (t *sequenceTx[T]) LockContainers(ctx context.Context, ids ...string) ([]ordering.Container, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	containers := make([]ordering.Container, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		var c ordering.Container
		err := t.tx.QueryRowContext(ctx, t.store.q.lockContainer, id).Scan(&c.ID, &c.MaxPosition)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s %s", ordering.ErrNotFound, singular(t.store.table.containerTable), id)
		}
		if err != nil {
			return nil, t.store.wrap("lock "+singular(t.store.table.containerTable), err)
		}
		containers = append(containers, c)
	}
	return containers, nil
}

func (t *sequenceTx[T]) Items(ctx context.Context, containerID string) ([]ordering.Item, error) {
	items, err := scanItems(t.tx.QueryContext(ctx, t.store.q.items, containerID))
	if err != nil {
		return nil, t.store.wrap("list "+t.store.table.itemTable, err)
	}
	return items, nil
}

func (t *sequenceTx[T]) MaxPosition(ctx context.Context, containerID string) (float64, error) {
	var maxPos float64
	if err := t.tx.QueryRowContext(ctx, t.store.q.maxPosition, containerID).Scan(&maxPos); err != nil {
		return 0, t.store.wrap("read max position", err)
	}
	return maxPos, nil
}

func (t *sequenceTx[T]) SavePositions(ctx context.Context, items []ordering.Item) error {
	for _, item := range items {
		res, err := t.tx.ExecContext(ctx, t.store.q.savePosition, item.ID, item.Position, item.ContainerID)
		if err != nil {
			return t.store.wrap("save position", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s %s", ordering.ErrNotFound, singular(t.store.table.itemTable), item.ID)
		}
	}
	return nil
}

func (t *sequenceTx[T]) SaveMaxPosition(ctx context.Context, containerID string, maxPosition float64) error {
	if _, err := t.tx.ExecContext(ctx, t.store.q.saveMaxPosition, containerID, maxPosition); err != nil {
		return t.store.wrap("save max position", err)
	}
	return nil
}

func (t *sequenceTx[T]) Insert(ctx context.Context, containerID string, position float64, data T) (T, ordering.Item, error) {
	created, err := t.store.insert(ctx, t.tx, containerID, position, data)
	if err != nil {
		var zero T
		return zero, ordering.Item{}, t.store.wrap("insert "+singular(t.store.table.itemTable), err)
	}
	return created, ordering.Item{ID: t.store.idOf(created), ContainerID: containerID, Position: position}, nil
}

func (t *sequenceTx[T]) Delete(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, t.store.q.delete, id)
	if err != nil {
		return t.store.wrap("delete "+singular(t.store.table.itemTable), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s %s", ordering.ErrNotFound, singular(t.store.table.itemTable), id)
	}
	return nil
}

func insertList(ctx context.Context, tx *sql.Tx, projectID string, position float64, list List) (List, error) {
	if list.ID == "" {
		list.ID = util.NewID("lst")
	}
	list.ProjectID = projectID
	list.Position = position
	err := tx.QueryRowContext(ctx, `
		INSERT INTO lists (id, project_id, name, position)
		VALUES ($1, $2, $3, $4)
		RETURNING max_position, created_at, updated_at
	`, list.ID, projectID, list.Name, position).Scan(&list.MaxPosition, &list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		return List{}, err
	}
	return list, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, listID string, position float64, task Task) (Task, error) {
	if task.ID == "" {
		task.ID = util.NewID("tsk")
	}
	task.ListID = listID
	task.Position = position
	err := tx.QueryRowContext(ctx, `
		INSERT INTO tasks (id, list_id, project_id, name, description, due_date, position, created_by)
		SELECT $1, l.id, l.project_id, $3, $4, $5, $6, NULLIF($7, '')
		FROM lists l
		WHERE l.id = $2
		RETURNING project_id, created_at, updated_at
	`, task.ID, listID, task.Name, task.Description, task.DueDate, position, task.CreatedBy).Scan(&task.ProjectID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	if task.MemberIDs == nil {
		task.MemberIDs = []string{}
	}
	if task.LabelIDs == nil {
		task.LabelIDs = []string{}
	}
	return task, nil
}

func scanItems(rows *sql.Rows, err error) ([]ordering.Item, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]ordering.Item, 0)
	for rows.Next() {
		var item ordering.Item
		if err := rows.Scan(&item.ID, &item.ContainerID, &item.Position); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func singular(table string) string {
	if len(table) > 1 && table[len(table)-1] == 's' {
		return table[:len(table)-1]
	}
	return table
}
