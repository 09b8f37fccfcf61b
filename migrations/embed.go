// Package migrations embeds the store's SQL migrations into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.Migrations = migrationsFS
	database.MigrationsDir = "."
}
