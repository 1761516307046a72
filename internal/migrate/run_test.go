package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersions(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"0001_users_and_profiles",
		"0002_user_roles",
		"0003_activity_logs",
	}, versions)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	versions, err := Versions()
	require.NoError(t, err)

	for _, v := range versions {
		body, err := migrationsFS.ReadFile("migrations/" + v + ".sql")
		require.NoError(t, err)
		assert.NotEmpty(t, body, v)
	}
}
