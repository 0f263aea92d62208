// Package migrations holds the PostgreSQL schema of the change log and the
// terminology snapshot.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
