package db

import (
	"strings"

	"gorm.io/gorm"
)

// ForUpdate returns the row lock suffix for raw SELECT statements. SQLite
// serializes writers per database and rejects the clause.
func ForUpdate(db *gorm.DB) string {
	if isSQLite(db) {
		return ""
	}
	return " FOR UPDATE"
}

// ForUpdateSkipLocked is ForUpdate for queue-style claims where busy rows
// are left to another worker.
func ForUpdateSkipLocked(db *gorm.DB) string {
	if isSQLite(db) {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}

func isSQLite(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return strings.EqualFold(db.Dialector.Name(), "sqlite")
}
