package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User holds the account balance that settlement mutates. The balance is
// authoritative only in the database row; it is never cached in memory.
type User struct {
	gorm.Model
	Username string          `gorm:"uniqueIndex;size:64" json:"username"`
	Balance  decimal.Decimal `gorm:"type:decimal(24,8)" json:"balance"`
	IsActive bool            `gorm:"default:true" json:"is_active"`
}
