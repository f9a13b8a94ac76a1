package recordstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cuongbtq/textjob/shared/database"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTableName rejects names that cannot be used unquoted in SQL
func ValidateTableName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}

// schema returns the DDL statements for a job table and its change log
func schema(driver, table string) []string {
	seqColumn := "seq BIGSERIAL PRIMARY KEY"
	if driver == database.DriverSQLite {
		seqColumn = "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS {table} (
			id               TEXT PRIMARY KEY,
			input_text       TEXT,
			input_file_path  TEXT,
			output_file_path TEXT,
			status           TEXT NOT NULL DEFAULT 'pending',
			error_message    TEXT,
			created_at       BIGINT NOT NULL,
			updated_at       BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{table}_created ON {table} (created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_{table}_status ON {table} (status)`,
		`CREATE TABLE IF NOT EXISTS {table}_changes (
			` + seqColumn + `,
			job_id       TEXT NOT NULL,
			event_name   TEXT NOT NULL,
			payload      TEXT NOT NULL,
			created_at   BIGINT NOT NULL,
			published_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_{table}_changes_pending ON {table}_changes (seq) WHERE published_at IS NULL`,
	}

	for i, s := range stmts {
		stmts[i] = strings.ReplaceAll(s, "{table}", table)
	}
	return stmts
}
