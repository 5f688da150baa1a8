// Package migrations embeds the schema files for Postgres and Scylla.
package migrations

import "embed"

// Postgres holds the numbered SQL migrations under postgres/.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// Scylla holds the CQL schema under scylla/.
//
//go:embed scylla/*.cql
var Scylla embed.FS
