package migrations_test

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/gymguild/internal/game/progression"
	"github.com/cory-johannsen/gymguild/migrations"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrations.FS, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestLedgerSchemaMatchesSources(t *testing.T) {
	raw, err := fs.ReadFile(migrations.FS, "000004_xp_transactions.up.sql")
	require.NoError(t, err)
	ddl := string(raw)
	for _, src := range []progression.Source{
		progression.SourceQuestComplete,
		progression.SourceRaidContribution,
		progression.SourceRaidVictory,
		progression.SourceAdjustment,
	} {
		assert.True(t, src.Valid())
		assert.Contains(t, ddl, "'"+string(src)+"'")
	}
	assert.Regexp(t, `amount\s+BIGINT`, ddl)
}
