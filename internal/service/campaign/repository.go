package campaign

import (
	"context"
	"time"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	Status domain.CampaignStatus
	Limit  int
	Offset int
}

// UpdateFields carries a partial campaign update. Nil fields are left
// untouched. Content edits are only legal while the campaign is a draft.
type UpdateFields struct {
	Name    *string `json:"name"`
	Subject *string `json:"subject"`
	Body    *string `json:"body"`
}

// Repository is the persistence boundary for campaigns and their recipient
// ledger. Implementations live in internal/repository; the in-memory one
// backs tests and single-node deployments, the Postgres one production.
//
// Every recipient state change recomputes the owning campaign's cached
// counters in the same transaction, so readers never observe counters that
// disagree with the ledger.
type Repository interface {
	// Get returns the campaign with its cached counters, or ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Campaign, error)

	// List returns campaigns newest-first plus the total count for paging.
	List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error)

	// Create stores a new campaign and returns its id.
	Create(ctx context.Context, c *domain.Campaign) (string, error)

	// Update applies a partial edit. Returns ErrNotFound for unknown ids
	// and ErrCampaignNotDraft once the campaign has left draft.
	Update(ctx context.Context, id string, u UpdateFields) error

	// Delete removes a draft campaign and its recipients. Returns
	// ErrCampaignNotDraft once dispatch has started.
	Delete(ctx context.Context, id string) error

	// UpdateStatus moves the campaign to status if its current status is
	// one of allowedFrom (any status when allowedFrom is empty). Returns
	// ErrInvalidTransition when the guard fails. Implementations stamp
	// started_at on the move to sending and completed_at on sent/failed.
	UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) error

	// AddRecipient appends a pending recipient to the campaign's ledger,
	// assigning the next position. Returns ErrCampaignNotDraft once the
	// campaign has left draft.
	AddRecipient(ctx context.Context, r *domain.Recipient) (string, error)

	// GetRecipient returns one ledger entry or ErrRecipientNotFound.
	GetRecipient(ctx context.Context, campaignID, recipientID string) (*domain.Recipient, error)

	// ListRecipients returns the campaign's ledger in insertion order,
	// optionally filtered to a single state ("" means all).
	ListRecipients(ctx context.Context, campaignID string, state domain.RecipientState) ([]domain.Recipient, error)

	// MarkSent moves a pending recipient to sent and stamps sent_at.
	// Returns false without error when the recipient is in any other
	// state, so replays and races degrade to no-ops.
	MarkSent(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error)

	// MarkFailed moves a pending recipient to failed and records the
	// delivery error. Same no-op contract as MarkSent.
	MarkFailed(ctx context.Context, campaignID, recipientID, reason string) (bool, error)

	// MarkOpened moves a sent recipient to opened and stamps opened_at.
	// Later opens and opens in any other state return false.
	MarkOpened(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error)

	// MarkClicked moves a sent or opened recipient to clicked. A click
	// straight from sent leaves opened_at empty; the open was simply
	// never observed.
	MarkClicked(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error)

	// RecomputeStats derives the campaign's engagement counts from the
	// ledger. The ledger is the source of truth; cached counters on the
	// campaign row exist only to make reads cheap.
	RecomputeStats(ctx context.Context, campaignID string) (*domain.CampaignStats, error)
}
