package store

import "database/sql"

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func importHashKey(bankName string) string {
	return "import_hash:" + bankName
}

// ImportHash returns the content hash of the last file imported under
// bankName, or "" if none.
func (s *Store) ImportHash(bankName string) (string, error) {
	return s.GetMetadata(importHashKey(bankName))
}

// SetImportHash records the content hash of a file imported under bankName.
func (s *Store) SetImportHash(bankName, hash string) error {
	return s.SetMetadata(importHashKey(bankName), hash)
}
