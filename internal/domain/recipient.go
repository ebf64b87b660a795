package domain

import (
	"net/url"
	"strings"
	"time"
)

// RecipientState enumerates the delivery lifecycle of a single recipient.
type RecipientState string

const (
	RecipientPending RecipientState = "pending"
	RecipientSent    RecipientState = "sent"
	RecipientOpened  RecipientState = "opened"
	RecipientClicked RecipientState = "clicked"
	RecipientFailed  RecipientState = "failed"
)

// transitions holds the legal forward edges of the delivery state machine.
// failed is a terminal branch off pending, not part of the engagement ladder.
// clicked is reachable straight from sent (pixel blocked, link clicked).
var transitions = map[RecipientState][]RecipientState{
	RecipientPending: {RecipientSent, RecipientFailed},
	RecipientSent:    {RecipientOpened, RecipientClicked},
	RecipientOpened:  {RecipientClicked},
}

// CanTransition reports whether a state change follows the forward-only
// delivery path. Callbacks arrive from untrusted mail clients, so callers
// absorb an illegal transition as a no-op rather than an error.
func CanTransition(from, to RecipientState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Recipient is one destination address bound to a campaign, tracked through
// its own delivery lifecycle. Position is the ledger insertion ordinal;
// dispatch processes recipients in this order.
type Recipient struct {
	ID         string         `json:"id" db:"id"`
	CampaignID string         `json:"campaign_id" db:"campaign_id"`
	Email      string         `json:"email" db:"email"`
	Name       string         `json:"name" db:"name"`
	State      RecipientState `json:"state" db:"state"`
	FailReason string         `json:"fail_reason,omitempty" db:"fail_reason"`
	Position   int            `json:"position" db:"position"`

	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at" db:"clicked_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// ValidateEmail checks an address for well-formedness only; deliverability
// is the transport's problem.
func ValidateEmail(email string) bool {
	email = strings.TrimSpace(email)
	if len(email) < 3 || len(email) > 254 {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	local, dom := parts[0], parts[1]
	if len(local) == 0 || len(local) > 64 {
		return false
	}
	if len(dom) == 0 || len(dom) > 253 {
		return false
	}
	if !strings.Contains(dom, ".") {
		return false
	}

	_, err := url.Parse("mailto:" + email)
	return err == nil
}
