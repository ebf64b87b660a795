// Package memory implements campaign.Repository with in-process maps.
// It backs unit tests and the "memory" storage driver used for single-node
// evaluation deployments. All state is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository. A single mutex serializes
// writes, which makes each recipient transition and its counter recompute
// atomic without a real transaction.
type CampaignRepo struct {
	mu         sync.RWMutex
	campaigns  map[string]*domain.Campaign
	recipients map[string][]*domain.Recipient // campaign id → ledger in insertion order
}

// NewCampaignRepo creates an empty in-memory campaign repository.
func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string][]*domain.Recipient),
	}
}

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return copyCampaign(c), nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Campaign
	for _, c := range r.campaigns {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *copyCampaign(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = nil
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	r.campaigns[c.ID] = copyCampaign(c)
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrCampaignNotDraft
	}
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Subject != nil {
		c.Subject = *u.Subject
	}
	if u.Body != nil {
		c.Body = *u.Body
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return campaign.ErrCampaignNotDraft
	}
	delete(r.campaigns, id)
	delete(r.recipients, id)
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus, allowedFrom ...domain.CampaignStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	if len(allowedFrom) > 0 {
		legal := false
		for _, from := range allowedFrom {
			if c.Status == from {
				legal = true
				break
			}
		}
		if !legal {
			return campaign.ErrInvalidTransition
		}
	}

	now := time.Now().UTC()
	c.Status = status
	c.UpdatedAt = now
	switch status {
	case domain.CampaignSending:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case domain.CampaignSent, domain.CampaignFailed:
		if c.CompletedAt == nil {
			c.CompletedAt = &now
		}
	}
	return nil
}

func (r *CampaignRepo) AddRecipient(ctx context.Context, rec *domain.Recipient) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.campaigns[rec.CampaignID]
	if !ok {
		return "", campaign.ErrNotFound
	}
	if c.Status != domain.CampaignDraft {
		return "", campaign.ErrCampaignNotDraft
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.State == "" {
		rec.State = domain.RecipientPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Position = len(r.recipients[rec.CampaignID]) + 1

	r.recipients[rec.CampaignID] = append(r.recipients[rec.CampaignID], copyRecipient(rec))
	c.TotalRecipients = len(r.recipients[rec.CampaignID])
	return rec.ID, nil
}

func (r *CampaignRepo) GetRecipient(ctx context.Context, campaignID, recipientID string) (*domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, err := r.findLocked(campaignID, recipientID)
	if err != nil {
		return nil, err
	}
	return copyRecipient(rec), nil
}

func (r *CampaignRepo) ListRecipients(ctx context.Context, campaignID string, state domain.RecipientState) ([]domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.campaigns[campaignID]; !ok {
		return nil, campaign.ErrNotFound
	}
	var out []domain.Recipient
	for _, rec := range r.recipients[campaignID] {
		if state != "" && rec.State != state {
			continue
		}
		out = append(out, *copyRecipient(rec))
	}
	return out, nil
}

func (r *CampaignRepo) MarkSent(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.findLocked(campaignID, recipientID)
	if err != nil {
		return false, err
	}
	if rec.State != domain.RecipientPending {
		return false, nil
	}
	rec.State = domain.RecipientSent
	rec.SentAt = &at
	r.recountLocked(campaignID)
	return true, nil
}

func (r *CampaignRepo) MarkFailed(ctx context.Context, campaignID, recipientID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.findLocked(campaignID, recipientID)
	if err != nil {
		return false, err
	}
	if rec.State != domain.RecipientPending {
		return false, nil
	}
	rec.State = domain.RecipientFailed
	rec.FailReason = reason
	r.recountLocked(campaignID)
	return true, nil
}

func (r *CampaignRepo) MarkOpened(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.findLocked(campaignID, recipientID)
	if err != nil {
		return false, err
	}
	if rec.State != domain.RecipientSent {
		return false, nil
	}
	rec.State = domain.RecipientOpened
	rec.OpenedAt = &at
	r.recountLocked(campaignID)
	return true, nil
}

func (r *CampaignRepo) MarkClicked(ctx context.Context, campaignID, recipientID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.findLocked(campaignID, recipientID)
	if err != nil {
		return false, err
	}
	if rec.State != domain.RecipientSent && rec.State != domain.RecipientOpened {
		return false, nil
	}
	rec.State = domain.RecipientClicked
	rec.ClickedAt = &at
	r.recountLocked(campaignID)
	return true, nil
}

func (r *CampaignRepo) RecomputeStats(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.campaigns[campaignID]; !ok {
		return nil, campaign.ErrNotFound
	}
	return r.statsLocked(campaignID), nil
}

// findLocked resolves a ledger entry. Callers must hold the mutex.
func (r *CampaignRepo) findLocked(campaignID, recipientID string) (*domain.Recipient, error) {
	if _, ok := r.campaigns[campaignID]; !ok {
		return nil, campaign.ErrNotFound
	}
	for _, rec := range r.recipients[campaignID] {
		if rec.ID == recipientID {
			return rec, nil
		}
	}
	return nil, campaign.ErrRecipientNotFound
}

// statsLocked derives counts from the ledger. Callers must hold the mutex.
func (r *CampaignRepo) statsLocked(campaignID string) *domain.CampaignStats {
	st := &domain.CampaignStats{}
	for _, rec := range r.recipients[campaignID] {
		st.TotalRecipients++
		switch rec.State {
		case domain.RecipientPending:
			st.PendingCount++
		case domain.RecipientSent:
			st.SentCount++
		case domain.RecipientOpened:
			st.SentCount++
			st.OpenCount++
		case domain.RecipientClicked:
			st.SentCount++
			st.OpenCount++
			st.ClickCount++
		case domain.RecipientFailed:
			st.FailedCount++
		}
	}
	return st
}

// recountLocked refreshes the cached counters on the campaign row from the
// ledger. Runs under the same lock as the transition that triggered it, so
// readers never see the two disagree.
func (r *CampaignRepo) recountLocked(campaignID string) {
	c, ok := r.campaigns[campaignID]
	if !ok {
		return
	}
	st := r.statsLocked(campaignID)
	c.TotalRecipients = st.TotalRecipients
	c.SentCount = st.SentCount
	c.OpenCount = st.OpenCount
	c.ClickCount = st.ClickCount
	c.UpdatedAt = time.Now().UTC()
}

func copyCampaign(c *domain.Campaign) *domain.Campaign {
	out := *c
	out.StartedAt = copyTime(c.StartedAt)
	out.CompletedAt = copyTime(c.CompletedAt)
	return &out
}

func copyRecipient(rec *domain.Recipient) *domain.Recipient {
	out := *rec
	out.SentAt = copyTime(rec.SentAt)
	out.OpenedAt = copyTime(rec.OpenedAt)
	out.ClickedAt = copyTime(rec.ClickedAt)
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
