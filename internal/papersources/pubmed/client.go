package pubmed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 500

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// DefaultMaxRetries is the retry budget for 429 and 5xx responses.
	DefaultMaxRetries = 3

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"

	// metricsSource labels this source in metrics.
	metricsSource = "pubmed"

	// maxResponseBytes bounds how much of a response is read.
	maxResponseBytes = 10 << 20
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	APIKey string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit (3 req/sec) if zero.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxResults is the default maximum results per search.
	// Defaults to DefaultMaxResults if zero.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	// When false, Search and Count return errors.
	Enabled bool
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// ErrDisabled is returned when the source is queried while disabled.
var ErrDisabled = errors.New("pubmed source is disabled")

// Option configures optional Client dependencies.
type Option func(*Client)

// WithMetrics records request counts and latencies on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client implements papersources.MetadataSource for PubMed.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
	metrics    *observability.Metrics
}

// Compile-time check that Client implements MetadataSource.
var _ papersources.MetadataSource = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
func New(cfg Config, opts ...Option) *Client {
	cfg.applyDefaults()

	httpCfg := papersources.HTTPClientConfig{
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		BurstSize:  cfg.BurstSize,
		MaxRetries: DefaultMaxRetries,
		Accept:     "application/xml",
	}

	return NewWithHTTPClient(cfg, papersources.NewHTTPClient(httpCfg), opts...)
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		config:     cfg,
		httpClient: httpClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search queries PubMed for papers matching the given parameters.
// Records come back in the order esearch ranked them, without availability.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	if !c.config.Enabled {
		return nil, ErrDisabled
	}

	startTime := time.Now()

	searchResult, err := c.esearch(ctx, params.Query, c.limit(params.MaxResults), params.Offset)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	// Phrases PubMed does not know yield no results rather than an error.
	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 && len(searchResult.IDList.IDs) == 0 {
		return &papersources.SearchResult{
			Papers:         []domain.PaperRecord{},
			SearchDuration: time.Since(startTime),
		}, nil
	}

	if len(searchResult.IDList.IDs) == 0 {
		return &papersources.SearchResult{
			Papers:         []domain.PaperRecord{},
			TotalResults:   searchResult.Count,
			NextOffset:     params.Offset,
			SearchDuration: time.Since(startTime),
		}, nil
	}

	articles, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	papers := make([]domain.PaperRecord, 0, len(articles.Articles))
	for _, article := range articles.Articles {
		papers = append(papers, articleToRecord(article))
	}

	nextOffset := params.Offset + len(searchResult.IDList.IDs)
	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   searchResult.Count,
		HasMore:        nextOffset < searchResult.Count,
		NextOffset:     nextOffset,
		SearchDuration: time.Since(startTime),
	}, nil
}

// Count returns the number of PubMed records matching query.
func (c *Client) Count(ctx context.Context, query string) (int, error) {
	if !c.config.Enabled {
		return 0, ErrDisabled
	}

	result, err := c.esearch(ctx, query, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("esearch failed: %w", err)
	}
	return result.Count, nil
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// limit clamps a requested result count to the configured and API limits.
func (c *Client) limit(requested int) int {
	if requested <= 0 {
		requested = c.config.MaxResults
	}
	return min(requested, MaxResultsLimit)
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, query string, retmax, retstart int) (*ESearchResult, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmode", "xml")
	q.Set("retmax", strconv.Itoa(retmax))
	if retstart > 0 {
		q.Set("retstart", strconv.Itoa(retstart))
	}

	var result ESearchResult
	if err := c.get(ctx, "esearch", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// efetch retrieves full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*PubmedArticleSet, error) {
	if len(pmids) == 0 {
		return &PubmedArticleSet{}, nil
	}

	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")

	var result PubmedArticleSet
	if err := c.get(ctx, "efetch", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// get calls {BaseURL}/{endpoint}.fcgi and decodes the XML body into out.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u := c.config.BaseURL + "/" + endpoint + ".fcgi?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordSourceRequest(metricsSource, endpoint, time.Since(start).Seconds())
	if err != nil {
		c.metrics.RecordSourceRequestFailed(metricsSource, endpoint, string(domain.ReasonFor(err)))
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordSourceRequestFailed(metricsSource, endpoint, "read")
		return fmt.Errorf("failed to read response: %w", domain.WrapTransportError(err))
	}

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordSourceRequestFailed(metricsSource, endpoint, "status")
		return domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), domain.ErrServiceUnavailable)
	}

	if err := xml.Unmarshal(body, out); err != nil {
		c.metrics.RecordSourceRequestFailed(metricsSource, endpoint, "decode")
		return fmt.Errorf("failed to parse XML response: %w", err)
	}
	return nil
}

// articleToRecord converts a PubmedArticle to a domain.PaperRecord.
func articleToRecord(article PubmedArticle) domain.PaperRecord {
	citation := article.MedlineCitation
	pmid := strings.TrimSpace(citation.PMID.Value)

	title := strings.TrimSpace(citation.Article.ArticleTitle)
	if title == "" {
		title = "Untitled"
	}

	journal := citation.Article.Journal.Title
	if journal == "" {
		journal = citation.Article.Journal.ISOAbbreviation
	}

	return domain.PaperRecord{
		Title:     title,
		Authors:   extractAuthors(citation.Article.AuthorList),
		Year:      extractYear(citation.Article),
		Journal:   strings.TrimSpace(journal),
		DOI:       extractDOI(citation.Article, article.PubmedData),
		PMID:      pmid,
		PubMedURL: domain.PubMedURLFor(pmid),
		Abstract:  extractAbstract(citation.Article.Abstract),
	}
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(article Article, pubmedData PubmedData) string {
	for _, eloc := range article.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return domain.NormalizeDOI(eloc.Value)
		}
	}

	for _, aid := range pubmedData.ArticleIdList.ArticleIds {
		if aid.IdType == "doi" {
			return domain.NormalizeDOI(aid.Value)
		}
	}

	return ""
}

// extractYear returns the journal issue year, falling back to the leading
// year of a MedlineDate ("2020 Jan-Feb") and then to the electronic date.
func extractYear(article Article) string {
	pubDate := article.Journal.JournalIssue.PubDate
	if y := strings.TrimSpace(pubDate.Year); y != "" {
		return y
	}
	if md := strings.TrimSpace(pubDate.MedlineDate); len(md) >= 4 {
		if _, err := strconv.Atoi(md[:4]); err == nil {
			return md[:4]
		}
	}
	for _, ad := range article.ArticleDate {
		if y := strings.TrimSpace(ad.Year); y != "" {
			return y
		}
	}
	return ""
}

// extractAbstract concatenates multiple abstract sections into a single string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractAuthors renders the author list as "ForeName LastName, ...".
func extractAuthors(authorList *AuthorList) string {
	if authorList == nil {
		return ""
	}

	names := make([]string, 0, len(authorList.Authors))
	for _, a := range authorList.Authors {
		if a.ValidYN == "N" {
			continue
		}

		var name string
		switch {
		case a.CollectiveName != "":
			name = a.CollectiveName
		case a.LastName != "":
			name = strings.TrimSpace(a.ForeName + " " + a.LastName)
		}
		if name != "" {
			names = append(names, name)
		}
	}

	return strings.Join(names, ", ")
}
