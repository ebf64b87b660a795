package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/metrics"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/logger"
)

// Dispatcher starts delivery runs. The dispatch engine implements it; the
// service only checks preconditions and hands the campaign over.
type Dispatcher interface {
	// Dispatch moves the campaign to sending and starts background
	// delivery. It returns ErrDispatchInProgress when another run already
	// holds the campaign's lock.
	Dispatch(ctx context.Context, campaignID string) error
}

// Service implements campaign business logic. It coordinates between the
// repository layer and the dispatch engine. All public methods are safe for
// concurrent use if the underlying repository is concurrency-safe.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
}

// NewService creates a campaign service backed by the given repository.
// The dispatcher may be nil in processes that never call Send, such as the
// tracking server.
func NewService(repo Repository, d Dispatcher) *Service {
	return &Service{repo: repo, dispatcher: d}
}

// Get returns a single campaign with its cached counters.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.List(ctx, f)
}

// Create validates and persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, input CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(input.Subject) == "" {
		return nil, fmt.Errorf("%w: subject is required", ErrValidation)
	}

	now := time.Now().UTC()
	c := &domain.Campaign{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(input.Name),
		Subject:   strings.TrimSpace(input.Subject),
		Body:      input.Body,
		Status:    domain.CampaignDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}

	id, err := s.repo.Create(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return c, nil
}

// Update modifies mutable campaign fields. The repository rejects edits once
// the campaign has left draft.
func (s *Service) Update(ctx context.Context, id string, u UpdateFields) (*domain.Campaign, error) {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if u.Subject != nil && strings.TrimSpace(*u.Subject) == "" {
		return nil, fmt.Errorf("%w: subject cannot be empty", ErrValidation)
	}
	if err := s.repo.Update(ctx, id, u); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a draft campaign and its ledger.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// AddRecipient appends a pending entry to a draft campaign's ledger.
func (s *Service) AddRecipient(ctx context.Context, campaignID string, input AddRecipientInput) (*domain.Recipient, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, ErrCampaignNotDraft
	}

	email := strings.TrimSpace(input.Email)
	if !domain.ValidateEmail(email) {
		return nil, ErrInvalidEmail
	}

	r := &domain.Recipient{
		ID:         uuid.New().String(),
		CampaignID: campaignID,
		Email:      email,
		Name:       strings.TrimSpace(input.Name),
		State:      domain.RecipientPending,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := s.repo.AddRecipient(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRecipients returns a campaign's ledger in insertion order, optionally
// filtered by state.
func (s *Service) ListRecipients(ctx context.Context, campaignID string, state domain.RecipientState) ([]domain.Recipient, error) {
	if _, err := s.repo.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.repo.ListRecipients(ctx, campaignID, state)
}

// Send validates that the campaign is dispatchable and hands it to the
// dispatch engine. Drafts start a fresh run; a campaign stuck in sending
// resumes, retrying only recipients still pending. Completed campaigns are
// rejected with ErrNotSendable.
func (s *Service) Send(ctx context.Context, id string) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}

	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignSending {
		return ErrNotSendable
	}

	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		return err
	}

	logger.Info("campaign dispatch accepted", "campaign_id", id, "prior_status", string(c.Status))
	return nil
}

// Stats recomputes engagement counts from the recipient ledger. The cached
// counters on the campaign row are a convenience; this is the authoritative
// read.
func (s *Service) Stats(ctx context.Context, id string) (*domain.CampaignStats, error) {
	return s.repo.RecomputeStats(ctx, id)
}

// RecordOpen promotes a sent recipient to opened, keeping the first observed
// open time. Unknown ids, replays and out-of-order opens are absorbed so the
// tracking pixel can be served unconditionally.
func (s *Service) RecordOpen(ctx context.Context, campaignID, recipientID string) error {
	moved, err := s.repo.MarkOpened(ctx, campaignID, recipientID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRecipientNotFound) {
			logger.Debug("open for unknown recipient", "campaign_id", campaignID, "recipient_id", recipientID)
			return nil
		}
		return err
	}
	if moved {
		metrics.IncOpenRecorded()
		logger.Debug("recipient opened", "campaign_id", campaignID, "recipient_id", recipientID)
	}
	return nil
}

// RecordClick promotes a sent or opened recipient to clicked. The same
// absorption rules as RecordOpen apply; the redirect is always issued.
func (s *Service) RecordClick(ctx context.Context, campaignID, recipientID string) error {
	moved, err := s.repo.MarkClicked(ctx, campaignID, recipientID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRecipientNotFound) {
			logger.Debug("click for unknown recipient", "campaign_id", campaignID, "recipient_id", recipientID)
			return nil
		}
		return err
	}
	if moved {
		metrics.IncClickRecorded()
		logger.Debug("recipient clicked", "campaign_id", campaignID, "recipient_id", recipientID)
	}
	return nil
}

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// AddRecipientInput holds the fields for adding a recipient to a campaign.
type AddRecipientInput struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
