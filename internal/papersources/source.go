// Package papersources provides clients for the upstream services that
// describe papers: PubMed for bibliographic metadata and Unpaywall for
// open-access locations.
//
// Clients share HTTPClient, which adds rate limiting, retries on 429 and 5xx
// responses, and classification of transport failures into domain errors.
//
// Example usage:
//
//	source := pubmed.New(cfg)
//	result, err := source.Search(ctx, papersources.SearchParams{
//		Query:      "melanoma AND immunotherapy[MeSH Terms]",
//		MaxResults: 100,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/paper-acquisition-service/internal/domain"
)

// SearchParams defines the parameters for a metadata search.
type SearchParams struct {
	// Query is the search string in the source's native syntax (required).
	Query string

	// MaxResults limits the number of records returned.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// Offset specifies the starting position for paginated results.
	Offset int
}

// SearchResult contains the records returned by a metadata search.
type SearchResult struct {
	// Papers holds one record per hit, without availability.
	Papers []domain.PaperRecord

	// TotalResults is the number of hits the source reports for the query,
	// regardless of pagination limits.
	TotalResults int

	// HasMore indicates whether additional results are available.
	HasMore bool

	// NextOffset is the offset of the next page. Only meaningful when HasMore is true.
	NextOffset int

	// SearchDuration is the time taken to execute the search.
	SearchDuration time.Duration
}

// MetadataSource produces paper records for a query.
type MetadataSource interface {
	// Search returns the records matching params.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// Count returns the number of records matching query without fetching them.
	Count(ctx context.Context, query string) (int, error)

	// Name returns a human-readable name for logs and metrics.
	Name() string

	// IsEnabled reports whether the source may be queried.
	IsEnabled() bool
}
