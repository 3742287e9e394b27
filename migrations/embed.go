// Package migrations embeds the ordered schema migrations for both SQL
// dialects so the service can bring its database up to date at startup
// without shipping loose .sql files next to the binary.
package migrations

import "embed"

//go:embed sqlite/*.sql mysql/*.sql
var FS embed.FS
