package httpserver

import (
	"time"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// Paper response types for JSON serialization.

type searchResponse struct {
	Papers         []domain.PaperRecord `json:"papers"`
	Total          int                  `json:"total"`
	TotalResults   int                  `json:"total_results"`
	AvailableCount int                  `json:"available_count"`
	FindableCount  int                  `json:"findable_count"`
	HasMore        bool                 `json:"has_more"`
}

type countResponse struct {
	ResultCount int `json:"result_count"`
}

type availabilityResult struct {
	DOI          string              `json:"doi"`
	AccessURLs   domain.AccessURLs   `json:"access_urls"`
	Availability domain.Availability `json:"availability"`
}

type availabilityResponse struct {
	Results        []availabilityResult `json:"results"`
	AvailableCount int                  `json:"available_count"`
}

// Batch response types.

type batchSummaryResponse struct {
	BatchID     string     `json:"batch_id"`
	Status      string     `json:"status"`
	Requested   int        `json:"requested"`
	Available   int        `json:"available"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
}

type batchDetailResponse struct {
	batchSummaryResponse
	Outcomes []domain.DownloadOutcome `json:"outcomes"`
	Manifest string                   `json:"manifest,omitempty"`
}

type listBatchesResponse struct {
	Batches       []batchSummaryResponse `json:"batches"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
	TotalCount    int                    `json:"total_count"`
}

type emptyBatchResponse struct {
	Error string              `json:"error"`
	Batch batchDetailResponse `json:"batch"`
}

// Converter functions from domain types to response types.

func summaryToResponse(s domain.BatchSummary) batchSummaryResponse {
	resp := batchSummaryResponse{
		BatchID:   s.ID.String(),
		Status:    string(s.Status),
		Requested: s.Requested,
		Available: s.Available,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Error:     s.Error,
		StartedAt: s.StartedAt,
	}
	if !s.CompletedAt.IsZero() {
		completed := s.CompletedAt
		resp.CompletedAt = &completed
		resp.Duration = completed.Sub(s.StartedAt).String()
	}
	return resp
}

func batchToDetailResponse(b *domain.BatchResult, withManifest bool) batchDetailResponse {
	outcomes := b.Outcomes
	if outcomes == nil {
		outcomes = []domain.DownloadOutcome{}
	}
	resp := batchDetailResponse{
		batchSummaryResponse: summaryToResponse(b.Summary()),
		Outcomes:             outcomes,
	}
	if withManifest {
		resp.Manifest = b.Manifest
	}
	return resp
}
