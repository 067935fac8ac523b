package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestStoreGet(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1_736_762_400, 0).UTC()

	mock.ExpectQuery("SELECT started_at FROM execution_anchors").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(at))
	mock.ExpectQuery("SELECT started_at FROM execution_anchors").
		WithArgs(int64(8)).
		WillReturnError(pgx.ErrNoRows)

	got, ok, err := store.Get(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, at, got)

	_, ok, err = store.Get(context.Background(), 8)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetAndClear(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	at := time.Unix(1_736_762_400, 0).UTC()

	mock.ExpectExec("INSERT INTO execution_anchors").
		WithArgs(int64(7), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM execution_anchors").
		WithArgs(int64(7)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Set(context.Background(), 7, at))
	require.NoError(t, store.Clear(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM execution_anchors").
		WithArgs(int64(3)).
		WillReturnError(errors.New("connection reset"))

	err := store.Clear(context.Background(), 3)
	require.ErrorContains(t, err, "clear anchor 3")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaUsesConfiguredTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock, "runwatch_anchors")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runwatch_anchors").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "anchors")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "anchors; DROP TABLE runs")
	require.ErrorContains(t, err, "invalid table name")
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
