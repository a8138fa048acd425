package db

import "embed"

// MigrationFS embeds the SQL migrations for users, sessions and audit_logs.
// Applied by internal/db/migrate (cmd/migrate).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
