// Package migrations embeds the spec store schema into the binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/cdicache/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
