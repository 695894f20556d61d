package auditlog

import (
	"database/sql"
	"fmt"
	"strings"
)

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS signal_audit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			channel TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			signal_id TEXT NOT NULL DEFAULT '',
			market_id TEXT NOT NULL DEFAULT '',
			disposition TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_signal_audit_ts ON signal_audit(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_signal_audit_disposition_ts ON signal_audit(disposition, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_signal_audit_market ON signal_audit(market_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	// orders 列晚于初版表结构加入
	return addColumnIfMissing(db, "signal_audit", "orders", "INTEGER NOT NULL DEFAULT 0")
}

func addColumnIfMissing(db *sql.DB, table, column, typ string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	exists := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		if strings.EqualFold(name, column) {
			exists = true
			break
		}
	}
	rows.Close()
	if exists {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, typ))
	return err
}
