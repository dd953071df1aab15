package search

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

type fakeBackend struct {
	mu        sync.Mutex
	healthy   bool
	searchFn  func(q Query) ([]Result, int, error)
	indexed   []TaskRecord
	deleted   []string
	indexDone chan struct{}
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(q Query) ([]Result, int, error) {
	return f.searchFn(q)
}

func (f *fakeBackend) IndexTasks(tasks []TaskRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, tasks...)
	f.mu.Unlock()
	if f.indexDone != nil {
		f.indexDone <- struct{}{}
	}
	return nil
}

func (f *fakeBackend) DeleteTask(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	if f.indexDone != nil {
		f.indexDone <- struct{}{}
	}
	return nil
}

func TestServiceUsesHealthyIndex(t *testing.T) {
	backend := &fakeBackend{
		healthy: true,
		searchFn: func(q Query) ([]Result, int, error) {
			if q.ProjectID != "prj_1" {
				t.Fatalf("unexpected project %q", q.ProjectID)
			}
			return []Result{{TaskID: "tsk_1", Name: "Write docs"}}, 1, nil
		},
	}
	svc := NewService(backend, nil, nil)

	resp := svc.Search(Query{Text: "docs", ProjectID: "prj_1"})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].TaskID != "tsk_1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestServiceFallsBackToPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	backend := &fakeBackend{
		healthy:  true,
		searchFn: func(Query) ([]Result, int, error) { return nil, 0, errors.New("index down") },
	}
	svc := NewService(backend, NewPgFTS(db), nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM tasks t WHERE t.project_id = $2`)).
		WithArgs("docs", "prj_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT t.id, t.list_id, t.project_id, t.name`).
		WithArgs("docs", "prj_1", 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "list_id", "project_id", "name", "snippet", "position"}).
			AddRow("tsk_1", "lst_1", "prj_1", "Write docs", "<mark>docs</mark> for the API", 16384.0))

	resp := svc.Search(Query{Text: "docs", ProjectID: "prj_1"})
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got := resp.Results[0]; got.ListID != "lst_1" || got.Position != 16384 {
		t.Fatalf("unexpected result: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestServiceEmptyQueryReturnsNoResults(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	svc := NewService(nil, NewPgFTS(db), nil)
	resp := svc.Search(Query{Text: "   ", ProjectID: "prj_1"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceIndexingSkipsUnhealthyIndex(t *testing.T) {
	backend := &fakeBackend{healthy: false}
	svc := NewService(backend, nil, nil)
	svc.IndexTask(TaskRecord{ID: "tsk_1"})
	svc.DeleteTask("tsk_1")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.indexed) != 0 || len(backend.deleted) != 0 {
		t.Fatalf("unhealthy index should not be written: %+v", backend)
	}
}

func TestServiceIndexesInBackground(t *testing.T) {
	backend := &fakeBackend{healthy: true, indexDone: make(chan struct{}, 2)}
	svc := NewService(backend, nil, nil)

	svc.IndexTask(TaskRecord{ID: "tsk_1", ProjectID: "prj_1", Name: "Write docs"})
	svc.DeleteTask("tsk_2")
	for i := 0; i < 2; i++ {
		select {
		case <-backend.indexDone:
		case <-time.After(time.Second):
			t.Fatal("index call did not happen")
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.indexed) != 1 || backend.indexed[0].ID != "tsk_1" {
		t.Fatalf("unexpected indexed tasks: %+v", backend.indexed)
	}
	if len(backend.deleted) != 1 || backend.deleted[0] != "tsk_2" {
		t.Fatalf("unexpected deleted tasks: %+v", backend.deleted)
	}
}

func TestReindexAllFromPG(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	backend := &fakeBackend{healthy: true}
	svc := NewService(backend, NewPgFTS(db), nil)

	mock.ExpectQuery(`SELECT id, project_id, list_id, name, description, position`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "project_id", "list_id", "name", "description", "position"}).
			AddRow("tsk_1", "prj_1", "lst_1", "a", "", 16384.0).
			AddRow("tsk_2", "prj_1", "lst_1", "b", "", 32768.0))

	svc.ReindexAllFromPG(context.Background())
	if len(backend.indexed) != 2 {
		t.Fatalf("expected 2 indexed tasks, got %d", len(backend.indexed))
	}
}
