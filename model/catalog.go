package model

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// ProductSnapshot is the last known price and stock of a product or variant.
// VariantID 0 is the product-level row. Claims re-verify alert conditions
// against these rows.
//
// PriceChangedAt is the last report carrying a price, RestockedAt the last
// transition from <= 0 to > 0. The alert sweep uses both to find alerts a
// report already satisfied.
type ProductSnapshot struct {
	ID             int64               `json:"id" db:"id"`
	ProductID      int64               `json:"productID" db:"product_id"`
	VariantID      int64               `json:"variantID" db:"variant_id"`
	Price          decimal.NullDecimal `json:"price" db:"price"`
	Stock          sql.NullInt64       `json:"stock" db:"stock"`
	PriceChangedAt sql.NullTime        `json:"priceChangedAt" db:"price_changed_at"`
	RestockedAt    sql.NullTime        `json:"restockedAt" db:"restocked_at"`
	UpdatedAt      time.Time           `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for ProductSnapshot.
func (s ProductSnapshot) TableName() string {
	return tablePrefix + "product_state"
}

// KnownStock returns the stock level, treating an unknown level as out of stock.
func (s ProductSnapshot) KnownStock() int64 {
	if !s.Stock.Valid {
		return 0
	}
	return s.Stock.Int64
}

// ProductChange is the delta reported by a catalog write.
// Nil NewPrice or NewStock means the field did not change.
type ProductChange struct {
	ProductID int64            `json:"productID"`
	VariantID int64            `json:"variantID,omitempty"`
	NewPrice  *decimal.Decimal `json:"newPrice,omitempty"`
	NewStock  *int64           `json:"newStock,omitempty"`
}

// IsEmpty reports whether the change carries neither a price nor a stock level.
func (c ProductChange) IsEmpty() bool {
	return c.NewPrice == nil && c.NewStock == nil
}

// Apply merges the change into a previous snapshot, keeping absent fields.
func (c ProductChange) Apply(prev ProductSnapshot, now time.Time) ProductSnapshot {
	next := prev
	next.ProductID = c.ProductID
	next.VariantID = c.VariantID
	if c.NewPrice != nil {
		next.Price = decimal.NewNullDecimal(*c.NewPrice)
		next.PriceChangedAt = sql.NullTime{Time: now, Valid: true}
	}
	if c.Restocked(prev) {
		next.RestockedAt = sql.NullTime{Time: now, Valid: true}
	}
	if c.NewStock != nil {
		next.Stock = sql.NullInt64{Int64: *c.NewStock, Valid: true}
	}
	next.UpdatedAt = now
	return next
}

// Restocked reports whether the change moves stock from <= 0 to > 0.
func (c ProductChange) Restocked(prev ProductSnapshot) bool {
	if c.NewStock == nil || *c.NewStock <= 0 {
		return false
	}
	return prev.KnownStock() <= 0
}
