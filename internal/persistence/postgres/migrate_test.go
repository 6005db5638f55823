package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURLRewritesScheme(t *testing.T) {
	require.Equal(t, "pgx5://u:p@h:5432/db", migrateURL("postgres://u:p@h:5432/db"))
	require.Equal(t, "pgx5://u:p@h/db", migrateURL("postgresql://u:p@h/db"))
	require.Equal(t, "pgx5://h/db", migrateURL("pgx5://h/db"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	require.Equal(t, 2, ups)
	require.Equal(t, ups, downs)
}

func TestRollbackRejectsNonPositiveSteps(t *testing.T) {
	require.Error(t, Rollback("postgres://localhost/db", 0))
}
