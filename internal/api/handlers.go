package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/e-sathish/bulk-email-tool-sample0/internal/domain"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/pkg/httputil"
	"github.com/e-sathish/bulk-email-tool-sample0/internal/service/campaign"
)

// Handlers bundles the HTTP handlers for the campaign API.
type Handlers struct {
	svc *campaign.Service
}

// NewHandlers creates the handler set backed by the campaign service.
func NewHandlers(svc *campaign.Service) *Handlers {
	return &Handlers{svc: svc}
}

// HealthCheck reports process liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status":  "ok",
		"service": "bulkmail-api",
	})
}

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaign.CreateInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	c, err := h.svc.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, c)
}

// ListCampaigns lists campaigns newest first, optionally filtered by status.
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	pag := ParsePagination(r, 50, 200)

	list, total, err := h.svc.List(r.Context(), campaign.ListFilter{
		Status: domain.CampaignStatus(r.URL.Query().Get("status")),
		Limit:  pag.Limit,
		Offset: pag.Offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(list, pag, total))
}

// GetCampaign returns a single campaign with its cached counters.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// UpdateCampaign edits a draft's name, subject or body.
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var fields campaign.UpdateFields
	if !httputil.Decode(w, r, &fields) {
		return
	}

	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "campaignID"), fields)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// DeleteCampaign removes a draft campaign and its recipient ledger.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "campaignID")); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.NoContent(w)
}

// AddRecipient appends one recipient to a draft campaign's ledger.
func (h *Handlers) AddRecipient(w http.ResponseWriter, r *http.Request) {
	var input campaign.AddRecipientInput
	if !httputil.Decode(w, r, &input) {
		return
	}

	rec, err := h.svc.AddRecipient(r.Context(), chi.URLParam(r, "campaignID"), input)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, rec)
}

// ListRecipients returns the ledger in send order, optionally filtered by
// state.
func (h *Handlers) ListRecipients(w http.ResponseWriter, r *http.Request) {
	state := domain.RecipientState(r.URL.Query().Get("state"))

	recs, err := h.svc.ListRecipients(r.Context(), chi.URLParam(r, "campaignID"), state)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"data":  recs,
		"count": len(recs),
	})
}

// SendCampaign starts or resumes dispatch for a campaign. Delivery continues
// in the background after the 202 response.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "campaignID")

	if err := h.svc.Send(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{
		"campaign_id": id,
		"status":      string(domain.CampaignSending),
	})
}

// GetCampaignStats returns recipient counts derived from the ledger.
func (h *Handlers) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, stats)
}

// writeError maps service errors onto HTTP status codes.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound) || errors.Is(err, campaign.ErrRecipientNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrValidation) || errors.Is(err, campaign.ErrInvalidEmail):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrNotSendable) ||
		errors.Is(err, campaign.ErrCampaignNotDraft) ||
		errors.Is(err, campaign.ErrDispatchInProgress):
		httputil.Conflict(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
