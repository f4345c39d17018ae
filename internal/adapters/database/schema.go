package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// goqu dialect names
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Reference table names
const (
	tableAntibiotics    = "eml_antibiotics"
	tableSusceptibility = "atlas_susceptibility"
	tableBreakpoints    = "mic_breakpoints"
	tableInteractions   = "drug_interaction_lookup"
	tableDosageRules    = "dosage_rules"
	tableSnapshots      = "reference_snapshots"
	tableCaseAudit      = "case_audit"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS reference_snapshots (
		version TEXT PRIMARY KEY,
		activated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eml_antibiotics (
		id {{id}},
		snapshot_version TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		who_category TEXT NOT NULL,
		eml_section TEXT,
		formulations {{list}},
		indication TEXT,
		atc_codes {{list}},
		combined_with TEXT,
		status TEXT,
		year INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS atlas_susceptibility (
		id {{id}},
		snapshot_version TEXT NOT NULL,
		species TEXT NOT NULL,
		family TEXT,
		antibiotic TEXT NOT NULL,
		percent_susceptible REAL,
		percent_intermediate REAL,
		percent_resistant REAL,
		total_isolates INTEGER,
		year INTEGER,
		region TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS mic_breakpoints (
		id {{id}},
		snapshot_version TEXT NOT NULL,
		pathogen_group TEXT NOT NULL,
		antibiotic TEXT NOT NULL,
		mic_susceptible REAL,
		mic_resistant REAL,
		route TEXT,
		notes TEXT,
		year INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS drug_interaction_lookup (
		id {{id}},
		snapshot_version TEXT NOT NULL,
		drug_1 TEXT NOT NULL,
		drug_2 TEXT NOT NULL,
		interaction_description TEXT,
		severity TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS dosage_rules (
		id {{id}},
		snapshot_version TEXT NOT NULL,
		antibiotic TEXT NOT NULL,
		indication TEXT,
		renal_category TEXT NOT NULL,
		dose TEXT NOT NULL,
		route TEXT NOT NULL,
		frequency TEXT NOT NULL,
		duration TEXT NOT NULL,
		source TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS case_audit (
		run_id TEXT PRIMARY KEY,
		patient_id TEXT,
		state TEXT NOT NULL,
		failure_type TEXT,
		record {{json}} NOT NULL,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	)`,
}

// SchemaStatements returns the DDL for the reference and audit tables in the given dialect
func SchemaStatements(dialect string) []string {
	r := strings.NewReplacer(
		"{{id}}", "INTEGER PRIMARY KEY",
		"{{list}}", "TEXT",
		"{{json}}", "TEXT",
	)
	if dialect == DialectPostgres {
		r = strings.NewReplacer(
			"{{id}}", "BIGSERIAL PRIMARY KEY",
			"{{list}}", "TEXT[]",
			"{{json}}", "JSONB",
		)
	}

	out := make([]string, len(schemaStatements))
	for i, stmt := range schemaStatements {
		out[i] = r.Replace(stmt)
	}
	return out
}

// EnsureSchema creates any missing tables
func EnsureSchema(ctx context.Context, db *sql.DB, dialect string) error {
	for _, stmt := range SchemaStatements(dialect) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// listColumn scans a text array. Postgres stores TEXT[]; SQLite stores a
// comma separated string.
type listColumn struct {
	dst     *[]string
	dialect string
}

func (l listColumn) Scan(src interface{}) error {
	if l.dialect == DialectPostgres {
		return pq.Array(l.dst).Scan(src)
	}
	var raw string
	switch v := src.(type) {
	case nil:
		*l.dst = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("unsupported list column type %T", src)
	}
	*l.dst = splitList(raw)
	return nil
}

// listValue is the write-side counterpart of listColumn
func listValue(values []string, dialect string) driver.Valuer {
	if dialect == DialectPostgres {
		return pq.Array(values)
	}
	return joinedList(values)
}

type joinedList []string

func (j joinedList) Value() (driver.Value, error) {
	return strings.Join(j, ","), nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
