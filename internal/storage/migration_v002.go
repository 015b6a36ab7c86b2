package storage

import "database/sql"

// migrateV002 adds the informational component count to embeddings. Rows
// written before it report 0.
func migrateV002(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE embeddings ADD COLUMN dimensions INTEGER NOT NULL DEFAULT 0`)
	return err
}
