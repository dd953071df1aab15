package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"taskboard/api/internal/ordering"
)

func TestPostgresReadOutageIsStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	pg := NewPostgresStore(db)

	for i := 0; i < readAttempts; i++ {
		mock.ExpectQuery(q(`FROM tasks t WHERE t.id=$1`)).
			WithArgs("tsk_1").
			WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	}
	_, err = pg.GetTask(context.Background(), "tsk_1")
	var storeErr *ordering.StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *ordering.StoreError, got %T %v", err, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "08006" {
		t.Fatalf("cause lost: %v", err)
	}

	mock.ExpectQuery(q(`FROM lists`)).
		WithArgs("lst_missing").
		WillReturnError(sql.ErrNoRows)
	_, err = pg.GetList(context.Background(), "lst_missing")
	if !errors.Is(err, sql.ErrNoRows) || errors.As(err, &storeErr) {
		t.Fatalf("expected a plain no-rows error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUnavailableDoesNotDoubleWrap(t *testing.T) {
	inner := &ordering.StoreError{Op: "lock", Err: errors.New("boom")}
	if got := unavailable("read", inner); got != inner {
		t.Fatalf("expected the original error back, got %v", got)
	}
}
