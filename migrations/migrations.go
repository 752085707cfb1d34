// Package migrations embeds the SQL schema applied by db.Migrate.
package migrations

import "embed"

// Files holds every up/down migration in golang-migrate naming.
//
//go:embed *.sql
var Files embed.FS
