package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var queueColumns = []string{"entity_id", "product_id", "tier", "position"}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "queue_items", queueColumns, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_InsideTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"queue_items"}, queueColumns).WillReturnResult(2)
	mock.ExpectCommit()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	rows := [][]any{{int64(1), int64(10), "head", 0}, {int64(1), int64(11), "mid_tail", 1}}
	n, err := CopyFrom(ctx, tx, "queue_items", queueColumns, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_ShortWrite(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"queue_items"}, queueColumns).WillReturnResult(1)

	rows := [][]any{{int64(1), int64(10), "head", 0}, {int64(1), int64(11), "head", 1}}
	_, err = CopyFrom(context.Background(), mock, "queue_items", queueColumns, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote 1 of 2")
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"queue_items"}, queueColumns).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "queue_items", queueColumns, [][]any{{int64(1), int64(2), "head", 0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into queue_items")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolInterface_Mock(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	var _ Pool = mock
}
