package domain

import "time"

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft   CampaignStatus = "draft"
	CampaignSending CampaignStatus = "sending"
	CampaignSent    CampaignStatus = "sent"
	CampaignFailed  CampaignStatus = "failed"
)

// Campaign represents one bulk mailing with its content and cached counters.
type Campaign struct {
	ID      string         `json:"id" db:"id"`
	Name    string         `json:"name" db:"name"`
	Subject string         `json:"subject" db:"subject"`
	Body    string         `json:"body" db:"body"`
	Status  CampaignStatus `json:"status" db:"status"`

	// Cached aggregates. Recipient states are the source of truth; these
	// must always match a fresh recompute scan.
	TotalRecipients int `json:"total_recipients" db:"total_recipients"`
	SentCount       int `json:"sent_count" db:"sent_count"`
	OpenCount       int `json:"open_count" db:"open_count"`
	ClickCount      int `json:"click_count" db:"click_count"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the campaign is in a final state.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignFailed
}

// CampaignStats holds the counters derived from recipient states.
type CampaignStats struct {
	TotalRecipients int `json:"total_recipients"`
	PendingCount    int `json:"pending_count"`
	SentCount       int `json:"sent_count"`
	OpenCount       int `json:"open_count"`
	ClickCount      int `json:"click_count"`
	FailedCount     int `json:"failed_count"`
}

// OpenRate returns opens as a fraction of delivered mail.
func (s CampaignStats) OpenRate() float64 {
	if s.SentCount == 0 {
		return 0
	}
	return float64(s.OpenCount) / float64(s.SentCount)
}

// ClickRate returns clicks as a fraction of delivered mail.
func (s CampaignStats) ClickRate() float64 {
	if s.SentCount == 0 {
		return 0
	}
	return float64(s.ClickCount) / float64(s.SentCount)
}
