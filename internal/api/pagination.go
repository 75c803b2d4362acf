package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ignite/provider-outreach/internal/campaign"
	"github.com/ignite/provider-outreach/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ListQuery is a parsed campaign list request.
type ListQuery struct {
	Status domain.CampaignStatus
	Page   int
	Limit  int
}

// Filter converts the query to the store filter.
func (q ListQuery) Filter() campaign.ListFilter {
	return campaign.ListFilter{Status: string(q.Status), Limit: q.Limit, Offset: (q.Page - 1) * q.Limit}
}

// ParseListQuery reads ?status=, ?page= and ?limit=. Bad paging values fall
// back to defaults; an unknown status is an error.
func ParseListQuery(r *http.Request) (ListQuery, error) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	limit = min(limit, maxPageSize)

	lq := ListQuery{Page: page, Limit: limit}
	if s := q.Get("status"); s != "" {
		lq.Status = domain.CampaignStatus(s)
		if !lq.Status.Valid() {
			return lq, fmt.Errorf("unknown status %s", s)
		}
	}
	return lq, nil
}

// CampaignPage is one page of campaigns.
type CampaignPage struct {
	Data       []domain.Campaign `json:"data"`
	Pagination PageMeta          `json:"pagination"`
}

// PageMeta describes where a page sits in the full result.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

func newCampaignPage(list []domain.Campaign, q ListQuery, total int) CampaignPage {
	if list == nil {
		list = []domain.Campaign{}
	}
	pages := max((total+q.Limit-1)/q.Limit, 1)
	return CampaignPage{
		Data: list,
		Pagination: PageMeta{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    q.Page < pages,
		},
	}
}
