package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/httputil"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// CampaignService is the part of *campaign.Service the HTTP layer drives.
type CampaignService interface {
	Create(ctx context.Context, req domain.DiscoveryRequest) (domain.Campaign, bool, error)
	Get(ctx context.Context, campaignID string) (campaign.StatusView, error)
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Cancel(ctx context.Context, campaignID string) (domain.Campaign, error)
	Assign(ctx context.Context, campaignID string, cand domain.Candidate, tier domain.Tier) (bool, error)
	CheckQuota(ctx context.Context, campaignID string) (domain.Campaign, error)
	EvaluateCheckIn(ctx context.Context, campaignID string) (*domain.CheckIn, error)
	RegisterProvider(ctx context.Context, c domain.Candidate) (domain.Candidate, error)
}

// Handlers contains the campaign HTTP handlers
type Handlers struct {
	svc CampaignService
	log *logger.Logger
}

// NewHandlers creates the campaign handlers
func NewHandlers(svc CampaignService) *Handlers {
	return &Handlers{svc: svc, log: logger.Named("api")}
}

// CreateCampaign starts a campaign for a posted job. A job that already has
// a campaign returns it with 200 instead of 201.
//
//	POST /api/discovery
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscoveryRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	c, created, err := h.svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if created {
		httputil.Created(w, c)
		return
	}
	httputil.OK(w, c)
}

// ListCampaigns pages through campaigns, optionally filtered by ?status=.
//
//	GET /api/campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	list, total, err := h.svc.List(r.Context(), q.Filter())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, newCampaignPage(list, q, total))
}

// GetCampaign returns the status view: candidates, attempts, check-ins and
// counts.
//
//	GET /api/campaigns/{id}
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, view)
}

// CancelCampaign stops an active campaign.
//
//	POST /api/campaigns/{id}/cancel
func (h *Handlers) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// CheckQuota re-evaluates the response count and closes the campaign when
// the target is met.
//
//	POST /api/campaigns/{id}/quota
func (h *Handlers) CheckQuota(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.CheckQuota(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.OK(w, c)
}

// RunCheckIn evaluates the due milestone now instead of waiting for the
// scheduler. 204 means nothing was due.
//
//	POST /api/campaigns/{id}/check-in
func (h *Handlers) RunCheckIn(w http.ResponseWriter, r *http.Request) {
	ci, err := h.svc.EvaluateCheckIn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if ci == nil {
		httputil.NoContent(w)
		return
	}
	httputil.OK(w, ci)
}

type assignRequest struct {
	Tier      domain.Tier      `json:"tier"`
	Candidate domain.Candidate `json:"candidate"`
}

// AssignCandidate adds one provider to a campaign by hand.
//
//	POST /api/campaigns/{id}/candidates
func (h *Handlers) AssignCandidate(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.Tier == "" {
		req.Tier = domain.TierA
	}
	added, err := h.svc.Assign(r.Context(), chi.URLParam(r, "id"), req.Candidate, req.Tier)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !added {
		httputil.Conflict(w, "candidate already assigned")
		return
	}
	httputil.Created(w, map[string]bool{"assigned": true})
}

// RegisterProvider adds a provider to the internal registry.
//
//	POST /api/registry/providers
func (h *Handlers) RegisterProvider(w http.ResponseWriter, r *http.Request) {
	var c domain.Candidate
	if !httputil.Decode(w, r, &c) {
		return
	}
	stored, err := h.svc.RegisterProvider(r.Context(), c)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.Created(w, stored)
}

// writeError maps service errors onto status codes. Anything unrecognized
// is logged and reported as a generic 500.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrInvalidRequest):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrJobNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrProviderUnavailable):
		httputil.ErrorCode(w, http.StatusServiceUnavailable, "provider_unavailable", "candidate discovery is temporarily unavailable")
	case errors.Is(err, outreach.ErrAttemptNotFound):
		httputil.NotFound(w, err.Error())
	default:
		h.log.Error("request failed", "error", err)
		httputil.InternalError(w, err)
	}
}
