package db

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	statements []string
	failOn     string
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if r.failOn != "" && sql == r.failOn {
		return pgconn.CommandTag{}, errors.New("syntax error")
	}
	r.statements = append(r.statements, sql)
	return pgconn.CommandTag{}, nil
}

func TestMigrateAppliesSQLInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.sql": {Data: []byte("SELECT 2;")},
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"README.md":  {Data: []byte("ignored")},
	}
	exec := &recordingExecer{}

	applied, err := Migrate(context.Background(), exec, fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, applied)
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;"}, exec.statements)
}

func TestMigrateStopsOnFailure(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"0002_b.sql": {Data: []byte("BROKEN")},
		"0003_c.sql": {Data: []byte("SELECT 3;")},
	}
	exec := &recordingExecer{failOn: "BROKEN"}

	applied, err := Migrate(context.Background(), exec, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_b.sql")
	assert.Equal(t, []string{"0001_a.sql"}, applied)
}

func TestNewPoolRejectsEmptyDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "", PoolConfig{})
	assert.Error(t, err)
}
