package scrapebot

import "embed"

// MigrationsFS holds the schema migrations for every supported store backend,
// laid out as migrations/<driver>/NNNNNN_name.{up,down}.sql.
//
//go:embed migrations
var MigrationsFS embed.FS
