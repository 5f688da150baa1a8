package db

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-engine/internal/config"
	"github.com/acme/campaign-engine/migrations"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/0010_late.sql":  {Data: []byte("SELECT 10;")},
		"sql/0002_mid.sql":   {Data: []byte("SELECT 2;")},
		"sql/0001_first.sql": {Data: []byte("SELECT 1;")},
	}

	list, err := LoadMigrations(fsys, "sql")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{list[0].Version, list[1].Version, list[2].Version})
	assert.Equal(t, "SELECT 2;", list[1].Body)
}

func TestLoadMigrationsRejectsUnnumberedFile(t *testing.T) {
	fsys := fstest.MapFS{"sql/init.sql": {Data: []byte("SELECT 1;")}}

	_, err := LoadMigrations(fsys, "sql")
	assert.Error(t, err)
}

func TestEmbeddedMigrationsLoad(t *testing.T) {
	pg, err := LoadMigrations(migrations.Postgres, "postgres")
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Contains(t, pg[0].Body, "UNIQUE (campaign_id, phone_number)")

	cql, err := LoadMigrations(migrations.Scylla, "scylla")
	require.NoError(t, err)
	require.NotEmpty(t, cql)
	stmts := SplitStatements(cql[0].Body)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE KEYSPACE"))
}

func TestSplitStatementsSkipsComments(t *testing.T) {
	script := "-- header\nCREATE TABLE a (id int);\n\n-- trailing comment\n;\nCREATE TABLE b (id int);\n"

	assert.Equal(t, []string{"CREATE TABLE a (id int)", "CREATE TABLE b (id int)"}, SplitStatements(script))
}

func TestDSNEscapesCredentials(t *testing.T) {
	dsn := DSN(config.PostgresConfig{Host: "db", User: "engine", Password: "p@ss/word", Database: "campaigns"})

	assert.Equal(t, "postgres://engine:p%40ss%2Fword@db:5432/campaigns?application_name=campaign-engine&sslmode=disable", dsn)
}
