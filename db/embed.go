// Package db embeds the mapping store schema.
package db

import _ "embed"

// Schema creates the invoice mapping table. Statements are idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string
