// Package model contains the domain models of the dispatch core: alerts,
// review jobs, catalog snapshots, claim outcomes and outbound payloads.
package model

// tablePrefix is prepended to every table name (see TableName methods).
const tablePrefix = "dispatch_"

// DomainError represents a domain-level business rule violation.
type DomainError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
}

func (e DomainError) Error() string {
	return e.Message
}

// Domain errors returned by model business logic methods.
var (
	// ErrAlreadyNotified indicates the alert already fired and is dormant.
	ErrAlreadyNotified = DomainError{Code: "ALREADY_NOTIFIED", Message: "alert already notified"}

	// ErrReviewAlreadySent indicates the review request for the order was already sent.
	ErrReviewAlreadySent = DomainError{Code: "ALREADY_SENT", Message: "review request already sent"}

	// ErrMissingContact indicates neither a user reference nor a bare contact is set.
	ErrMissingContact = DomainError{Code: "MISSING_CONTACT", Message: "contact is required"}

	// ErrAmbiguousContact indicates both a user reference and a bare contact are set.
	ErrAmbiguousContact = DomainError{Code: "AMBIGUOUS_CONTACT", Message: "exactly one of user or contact must be set"}
)
