package db

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpen_CreatesSchemaWithClosedWindows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "gate.db")

	conn, err := Open(context.Background(), Config{Path: path}, quiet)
	require.NoError(t, err)

	var windows, open int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM admission_windows`).Scan(&windows))
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM admission_windows WHERE start_sec IS NOT NULL`).Scan(&open))
	assert.Equal(t, 14, windows)
	assert.Equal(t, 0, open)
	require.NoError(t, conn.Close())

	// Reopening applies nothing twice.
	conn, err = Open(context.Background(), Config{Path: path}, quiet)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM admission_windows`).Scan(&windows))
	assert.Equal(t, 14, windows)
}

func TestMigrate_PropagatesError(t *testing.T) {
	conn, _ := newMock(t)

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		assert.Equal(t, ".", dir)
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	err := Migrate(context.Background(), conn, quiet)
	assert.ErrorContains(t, err, "migrate: boom")
}

func TestDSN(t *testing.T) {
	dsn := DSN("/var/lib/schoolgate/gate.db")
	assert.Contains(t, dsn, "file:/var/lib/schoolgate/gate.db?")
	assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
	assert.Contains(t, dsn, "_pragma=busy_timeout(5000)")
}
