package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema for d.  Every statement is
// idempotent (CREATE TABLE IF NOT EXISTS and seed rows guarded by unique
// keys), so Migrate is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	src, err := schemaFS.ReadFile("schema/" + string(d) + ".sql")
	if err != nil {
		return fmt.Errorf("read schema for %s: %w", d, err)
	}
	for _, stmt := range splitStatements(string(src)) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w (statement: %.80s)", d, err, stmt)
		}
	}
	return nil
}

// splitStatements drops "--" comment lines and splits the remainder on
// semicolons.  The schema files contain no semicolons inside literals.
func splitStatements(src string) []string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
