package notification

import "time"

// Notification is one in-app message for a user. Rows are written inside the
// transaction of the workflow transition that caused them, so a committed
// transition always has its notification and a rolled-back one never does.
type Notification struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	Body       string    `json:"body"`
	PropertyID *string   `json:"property_id,omitempty"`
	ContractID *string   `json:"contract_id,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}
