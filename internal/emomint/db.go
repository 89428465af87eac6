package emomint

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockForUpdate adds a SELECT ... FOR UPDATE row lock. All ledger-mutating
// operations for an account go through this so writes stay serialized per
// account. The sqlite test database has no FOR UPDATE syntax; its single
// writer serializes transactions anyway.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
