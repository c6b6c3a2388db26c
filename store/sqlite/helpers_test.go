package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"schoolgate/db"
	sqlitestore "schoolgate/store/sqlite"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// openTestStore returns a store on a fresh in-memory database with the
// production schema. Everything is closed when the test finishes.
func openTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		uuid.NewString(),
	)
	conn, err := db.OpenDSN(context.Background(), dsn)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background(), conn, quiet))

	s := sqlitestore.New(conn, db.NewWorker(conn))
	t.Cleanup(func() { s.Close() })
	return s, conn
}
