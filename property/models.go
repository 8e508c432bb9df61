package property

import "time"

// TransactionType distinguishes listings offered for rent from sale.
type TransactionType string

const (
	TransactionRent TransactionType = "rent"
	TransactionSale TransactionType = "sale"
)

// AvailabilityStatus tells whether the property is presently transactable.
type AvailabilityStatus string

const (
	AvailabilityAvailable   AvailabilityStatus = "available"
	AvailabilityRented      AvailabilityStatus = "rented"
	AvailabilitySold        AvailabilityStatus = "sold"
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
)

// ApprovalStatus tells whether the listing is publicly visible.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Property mirrors the properties table.
type Property struct {
	ID                    string
	OwnerID               string
	Title                 string
	Description           string
	Category              string
	TransactionType       TransactionType
	Price                 float64
	Province              string
	Municipality          string
	Neighborhood          string
	Bedrooms              int
	Bathrooms             int
	AreaSqm               float64
	Images                []string
	ShortTerm             bool
	Featured              bool
	AvailabilityStatus    AvailabilityStatus
	ApprovalStatus        ApprovalStatus
	RejectionMessage      *string
	RejectionAcknowledged bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PubliclyVisible reports whether non-owners may see the listing.
func (p Property) PubliclyVisible() bool {
	return p.ApprovalStatus == ApprovalApproved && p.AvailabilityStatus == AvailabilityAvailable
}

// EditLocked reports whether the owner must acknowledge a rejection before
// editing the listing.
func (p Property) EditLocked() bool {
	return p.ApprovalStatus == ApprovalRejected && !p.RejectionAcknowledged
}

// Draft is the owner-supplied listing payload, validated on submit and on
// resubmission after edit.
type Draft struct {
	Title           string          `json:"title" validate:"required"`
	Description     string          `json:"description"`
	Category        string          `json:"category" validate:"required"`
	TransactionType TransactionType `json:"transaction_type" validate:"required,oneof=rent sale"`
	Price           float64         `json:"price" validate:"required,gt=0"`
	Province        string          `json:"province" validate:"required"`
	Municipality    string          `json:"municipality"`
	Neighborhood    string          `json:"neighborhood"`
	Bedrooms        int             `json:"bedrooms" validate:"gte=0"`
	Bathrooms       int             `json:"bathrooms" validate:"gte=0"`
	AreaSqm         float64         `json:"area_sqm" validate:"gte=0"`
	Images          []string        `json:"images" validate:"required,min=1,dive,required"`
	ShortTerm       bool            `json:"short_term"`
	Featured        bool            `json:"featured"`
}

// IsOwnedBy reports whether userID is the listing's owner.
func IsOwnedBy(p Property, userID string) bool {
	return p.OwnerID != "" && p.OwnerID == userID
}
