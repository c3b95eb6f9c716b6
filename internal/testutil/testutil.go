// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"fmt"
	"testing"

	"feedsync/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// NewDatabase opens a fresh, migrated in-memory sqlite database that is
// closed when the test ends.
func NewDatabase(t *testing.T) *database.Database {
	t.Helper()

	dsn := fmt.Sprintf("sqlite://file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.NewSilent(dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
