// Package db embeds the SQL schema migrations.
package db

import "embed"

// Migrations holds migrations/*_*.up.sql and their .down.sql counterparts.
//
//go:embed migrations/*.sql
var Migrations embed.FS
