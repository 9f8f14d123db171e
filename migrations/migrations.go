// README: Embedded SQL migrations applied by the admin CLI and DB-backed tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
