package models

import (
	"time"

	"gorm.io/datatypes"
)

// CreditMarker proves a payment reference has already been applied to a
// wallet balance. At most one row exists per reference; the primary key on
// the sanitized reference backstops the transactional check.
//
// The credit fields are immutable after creation. Only the purchase
// annotation may be set later, once, when an auto-purchase completes.
type CreditMarker struct {
	Reference        string         `json:"reference" gorm:"primaryKey;size:128"`
	UserID           string         `json:"user_id" gorm:"size:128"`
	Amount           float64        `json:"amount" gorm:"type:numeric(12,2)"`     // amount credited to the wallet
	RawAmount        float64        `json:"raw_amount" gorm:"type:numeric(12,2)"` // full verified payment amount
	Metadata         datatypes.JSON `json:"-" gorm:"type:jsonb"`
	ProcessedAt      time.Time      `json:"processed_at"`
	PurchaseExecuted bool           `json:"purchase_executed"`
	PurchaseDocID    string         `json:"purchase_doc_id" gorm:"size:128"`
}
