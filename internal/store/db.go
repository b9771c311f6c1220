// Package store is the SQLite-backed persistence layer: negotiated rates,
// reference data (PCP specialties, payment methods), and the estimate audit
// trail. Reads are served from a two-layer cache; writes go through a single
// async writer goroutine.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds database configuration.
type Config struct {
	Path          string
	RetentionDays int
}

// DB wraps a sql.DB with retention settings.
type DB struct {
	db            *sql.DB
	retentionDays int
}

// RawDB returns the underlying *sql.DB for components that need direct access.
func (d *DB) RawDB() *sql.DB {
	return d.db
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Open creates the directory, opens the SQLite database, sets WAL mode and
// pragmas, and ensures all tables exist.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is empty")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// In WAL mode SQLite supports concurrent readers with a single writer.
	// Allow multiple connections so reads don't block behind writes.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)

	// Set pragmas for performance and concurrency.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	retDays := cfg.RetentionDays
	if retDays <= 0 {
		retDays = 90
	}

	d := &DB{db: sqlDB, retentionDays: retDays}

	// Run cleanup at startup so old audit rows are purged even if the
	// process never lives long enough for the periodic ticker to fire.
	if err := d.Cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "store: startup cleanup failed (non-fatal): %v\n", err)
	}

	return d, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		// Rate amounts are stored as TEXT so decimal values round-trip
		// without binary float drift.
		`CREATE TABLE IF NOT EXISTS negotiated_rates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scope TEXT NOT NULL,
			service_code TEXT NOT NULL,
			membership_id TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL DEFAULT '',
			network_id TEXT NOT NULL DEFAULT '',
			rate_type TEXT NOT NULL,
			amount TEXT NOT NULL,
			payment_method_code TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rates_lookup
			ON negotiated_rates(service_code, scope, provider_id, network_id, membership_id)`,

		`CREATE TABLE IF NOT EXISTS pcp_specialties (
			specialty_code TEXT PRIMARY KEY,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS payment_methods (
			code TEXT PRIMARY KEY,
			rank INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS estimate_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			request_id TEXT NOT NULL,
			membership_id TEXT NOT NULL,
			service_code TEXT NOT NULL,
			provider_id TEXT NOT NULL,
			benefit_name TEXT NOT NULL,
			rate TEXT NOT NULL,
			member_pays TEXT NOT NULL,
			trace TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON estimate_audit(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_member ON estimate_audit(membership_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Cleanup deletes audit rows older than retentionDays.
func (d *DB) Cleanup() error {
	cutoff := time.Now().AddDate(0, 0, -d.retentionDays).Format(time.RFC3339)
	if _, err := d.db.Exec("DELETE FROM estimate_audit WHERE timestamp < ?", cutoff); err != nil {
		return fmt.Errorf("cleanup estimate_audit: %w", err)
	}
	return nil
}

// PCPSpecialties returns every specialty code currently designated PCP.
func (d *DB) PCPSpecialties() ([]string, error) {
	rows, err := d.db.Query("SELECT specialty_code FROM pcp_specialties")
	if err != nil {
		return nil, fmt.Errorf("querying pcp_specialties: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// PaymentMethodRanks returns payment method codes mapped to their precedence
// rank. Lower rank wins when a service has rates under several methods.
func (d *DB) PaymentMethodRanks() (map[string]int, error) {
	rows, err := d.db.Query("SELECT code, rank FROM payment_methods")
	if err != nil {
		return nil, fmt.Errorf("querying payment_methods: %w", err)
	}
	defer rows.Close()

	ranks := make(map[string]int)
	for rows.Next() {
		var code string
		var rank int
		if err := rows.Scan(&code, &rank); err != nil {
			return nil, err
		}
		ranks[code] = rank
	}
	return ranks, rows.Err()
}

// ReplacePCPSpecialties swaps the PCP specialty set in one transaction.
func (d *DB) ReplacePCPSpecialties(codes []string) error {
	return d.replaceRefTable("pcp_specialties", func(tx *sql.Tx, now int64) error {
		stmt, err := tx.Prepare("INSERT INTO pcp_specialties (specialty_code, updated_at) VALUES (?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, code := range codes {
			if _, err := stmt.Exec(code, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplacePaymentMethods swaps the payment method precedence table in one
// transaction.
func (d *DB) ReplacePaymentMethods(ranks map[string]int) error {
	return d.replaceRefTable("payment_methods", func(tx *sql.Tx, now int64) error {
		stmt, err := tx.Prepare("INSERT INTO payment_methods (code, rank, updated_at) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for code, rank := range ranks {
			if _, err := stmt.Exec(code, rank, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) replaceRefTable(table string, insert func(*sql.Tx, int64) error) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning %s refresh: %w", table, err)
	}
	if _, err := tx.Exec("DELETE FROM " + table); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing %s: %w", table, err)
	}
	if err := insert(tx, time.Now().Unix()); err != nil {
		tx.Rollback()
		return fmt.Errorf("filling %s: %w", table, err)
	}
	return tx.Commit()
}
