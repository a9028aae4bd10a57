// Package migrations embeds the SQL schema migrations into the binary
// and registers them with the database layer. Importing this package
// for its side effects is enough:
//
//	import _ "github.com/relaybridge/relay-core/migrations"
package migrations

import (
	"embed"

	"github.com/relaybridge/relay-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
