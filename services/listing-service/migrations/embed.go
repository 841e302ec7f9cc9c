// Package migrations holds the goose migrations of the listing service
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
