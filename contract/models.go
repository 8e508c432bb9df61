package contract

import "time"

// Type distinguishes rental agreements (which carry an end date) from sales.
type Type string

const (
	TypeRental Type = "rental"
	TypeSale   Type = "sale"
)

// Status is the contract lifecycle state. cancelled and completed are
// terminal; everything else counts as a live contract for the
// one-live-contract-per-property invariant.
type Status string

const (
	StatusPendingSignatures    Status = "pending_signatures"
	StatusSignedByOwner        Status = "signed_by_owner"
	StatusSignedByCounterparty Status = "signed_by_counterparty"
	StatusActive               Status = "active"
	StatusCancelled            Status = "cancelled"
	StatusCompleted            Status = "completed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Signable reports whether a signature may still be applied.
func (s Status) Signable() bool {
	switch s {
	case StatusPendingSignatures, StatusSignedByOwner, StatusSignedByCounterparty:
		return true
	default:
		return false
	}
}

// Party identifies which side of the contract is acting.
type Party string

const (
	PartyOwner        Party = "owner"
	PartyCounterparty Party = "counterparty"
)

// Contract mirrors the contracts table.
type Contract struct {
	ID                    string
	PropertyID            string
	OwnerID               string
	CounterpartyID        string
	Type                  Type
	Value                 float64
	StartDate             time.Time
	EndDate               *time.Time
	Content               string
	Status                Status
	OwnerSignature        *string
	OwnerSignedAt         *time.Time
	CounterpartySignature *string
	CounterpartySignedAt  *time.Time
	CancelReason          *string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// SignedBy reports whether the given party already signed.
func (c Contract) SignedBy(p Party) bool {
	switch p {
	case PartyOwner:
		return c.OwnerSignature != nil
	case PartyCounterparty:
		return c.CounterpartySignature != nil
	default:
		return false
	}
}

// PartyOf resolves which side of the contract userID is on; ok is false for
// strangers.
func (c Contract) PartyOf(userID string) (Party, bool) {
	switch userID {
	case c.OwnerID:
		return PartyOwner, true
	case c.CounterpartyID:
		return PartyCounterparty, true
	default:
		return "", false
	}
}

// Terms is the caller-supplied agreement payload, validated on create.
type Terms struct {
	Type      Type       `json:"type" validate:"required,oneof=rental sale"`
	Value     float64    `json:"value" validate:"required,gt=0"`
	StartDate time.Time  `json:"start_date" validate:"required"`
	EndDate   *time.Time `json:"end_date,omitempty"`
	Content   string     `json:"content"`
}

// CreateParams identifies the property and counterparty for a new contract.
// Exactly one of CounterpartyID and CounterpartyPhone must be set; the phone
// form mirrors the UX where the owner types the tenant's number.
type CreateParams struct {
	PropertyID        string
	CounterpartyID    string
	CounterpartyPhone string
	Terms             Terms
}

/// CreateResult carries the stored contract plus the deferred-BI flag: a
// missing counterparty identity document does not block creation, only the
// later transition to active.
type CreateResult struct {
	Contract              Contract
	CounterpartyBIMissing bool
}

// Event is one entry of the append-only contract audit trail.
type Event struct {
	ID         int64
	ContractID string
	Type       string
	ActorID    *string
	Payload    []byte
	CreatedAt  time.Time
}

const (
	EventCreated   = "CONTRACT_CREATED"
	EventSigned    = "CONTRACT_SIGNED"
	EventActivated = "CONTRACT_ACTIVATED"
	EventCancelled = "CONTRACT_CANCELLED"
	EventCompleted = "CONTRACT_COMPLETED"
)
