package migrate

import "embed"

//go:embed sql/*.sql
var SQLFiles embed.FS

// SQLDir is the embedded directory LoadFromFS reads migrations from.
const SQLDir = "sql"
