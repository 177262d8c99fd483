// Package testing provides test databases, fixtures, and mocks shared by the
// package-level test suites.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/aristath/vantage/internal/database"
	_ "modernc.org/sqlite"
)

// NewTestDB creates a temporary on-disk SQLite database, applies the given
// schema, and returns it with an idempotent cleanup function. Temporary files
// (not :memory:) keep each test isolated under the shared connection pool.
func NewTestDB(t *testing.T, name, schema string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if schema != "" {
		if _, err := db.Conn().Exec(schema); err != nil {
			_ = db.Close()
			_ = os.Remove(tmpPath)
			t.Fatalf("Failed to apply schema to test database %s: %v", name, err)
		}
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
			t.Logf("Warning: failed to remove test database file %s: %v", tmpPath, err)
		}
	}
}
