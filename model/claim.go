package model

import "github.com/shopspring/decimal"

// ClaimResult is the outcome of an atomic claim attempt.
type ClaimResult int

const (
	// ClaimClaimed means this caller performed the null -> now transition
	// and must send the notification.
	ClaimClaimed ClaimResult = iota + 1

	// ClaimAlreadyClaimed means another caller got there first.
	ClaimAlreadyClaimed

	// ClaimConditionNoLongerMet means the trigger was transient; the row
	// stays pending for a future trigger.
	ClaimConditionNoLongerMet
)

// String returns a stable label, used in logs and metrics.
func (r ClaimResult) String() string {
	switch r {
	case ClaimClaimed:
		return "claimed"
	case ClaimAlreadyClaimed:
		return "already_claimed"
	case ClaimConditionNoLongerMet:
		return "condition_no_longer_met"
	default:
		return "unknown"
	}
}

// AlertQuery selects pending alerts for one evaluation pass.
type AlertQuery struct {
	ProductID   int64
	VariantID   int64 // 0 = product-level change, matches product-level alerts only
	SubjectType SubjectType
	// AtPrice, when set, keeps only alerts whose threshold is >= AtPrice.
	AtPrice *decimal.Decimal
	// AfterID, when set, keeps only alerts with a greater id (page cursor).
	AfterID int64
	Limit   int // 0 = no limit
}
