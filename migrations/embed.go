// Package migrations compiles the door event log schema into the
// binary. Both daemons run against the same database file, so each
// blank-imports this package and calls Migrate at startup; whichever
// starts first applies any pending scripts.
package migrations

import (
	"embed"

	"github.com/nerrad567/sesami-core/internal/infrastructure/database"
)

//go:embed *.sql
var scripts embed.FS

func init() {
	database.RegisterMigrations(scripts)
}
