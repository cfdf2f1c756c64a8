package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Purchase is one confirmed data-bundle order. Append-only; order-history
// views read it, nothing updates it after creation.
type Purchase struct {
	Id                   string         `json:"id" gorm:"primaryKey"`
	UserID               string         `json:"user_id" gorm:"index:idx_purchases_user_created,priority:1"`
	Network              string         `json:"network" gorm:"size:20"`
	PhoneNumber          string         `json:"phone_number" gorm:"size:20"`
	Capacity             string         `json:"capacity" gorm:"size:10"`
	Price                float64        `json:"price" gorm:"type:numeric(12,2)"` // price charged to the wallet, not the upstream cost
	TransactionReference string         `json:"transaction_reference" gorm:"size:128;index"`
	Status               string         `json:"status" gorm:"size:20"`
	RawResponse          datatypes.JSON `json:"-" gorm:"type:jsonb"`
	CreatedAt            time.Time      `json:"created_at" gorm:"index:idx_purchases_user_created,priority:2"`
}

func (p *Purchase) BeforeCreate(tx *gorm.DB) (err error) {
	if p.Id == "" {
		p.Id = uuid.NewString()
	}
	return
}
