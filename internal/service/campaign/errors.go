package campaign

import "errors"

// Sentinel errors returned by the campaign service and its repositories.
// Callers should match with errors.Is; repositories wrap these with
// driver-specific context.
var (
	// ErrNotFound indicates the requested campaign does not exist.
	ErrNotFound = errors.New("campaign not found")

	// ErrRecipientNotFound indicates the recipient does not exist under
	// the given campaign.
	ErrRecipientNotFound = errors.New("recipient not found")

	// ErrNotSendable is returned by Send when the campaign has already
	// completed (sent or failed) and cannot be dispatched again.
	ErrNotSendable = errors.New("campaign is not in a sendable state")

	// ErrDispatchInProgress is returned by Send when another dispatch run
	// currently holds the campaign lock.
	ErrDispatchInProgress = errors.New("campaign dispatch already in progress")

	// ErrCampaignNotDraft is returned when a mutation is only legal on a
	// draft campaign, such as adding recipients or editing content.
	ErrCampaignNotDraft = errors.New("campaign is no longer a draft")

	// ErrInvalidTransition indicates a campaign status update whose
	// precondition no longer holds.
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrInvalidEmail indicates a recipient address that fails validation.
	ErrInvalidEmail = errors.New("invalid email address")

	// ErrValidation wraps input validation failures; the API layer maps it
	// to a 400 response.
	ErrValidation = errors.New("validation failed")
)
