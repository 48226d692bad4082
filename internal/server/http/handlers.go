package httpserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
	"github.com/helixir/paper-acquisition-service/internal/papersources"
	"github.com/helixir/paper-acquisition-service/internal/papersources/pubmed"
	"github.com/helixir/paper-acquisition-service/internal/repository"
)

// Pagination and request size limits.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20  // 1 MB limit for query bodies
	maxBatchBodySize   = 32 << 20 // paper lists carry abstracts
)

// Response headers set by the bulk download.
const (
	headerBatchID   = "X-Batch-ID"
	headerSucceeded = "X-Batch-Succeeded"
	headerFailed    = "X-Batch-Failed"
	archiveFilename = "papers.zip"
)

type searchRequest struct {
	SearchString string `json:"search_string" validate:"required,max=10000"`
	MaxResults   int    `json:"max_results" validate:"gte=0,lte=10000"`
}

type countRequest struct {
	SearchString string `json:"search_string" validate:"required,max=10000"`
}

type availabilityRequest struct {
	DOIs []string `json:"dois" validate:"required,min=1,max=100,dive,required"`
}

type bulkDownloadRequest struct {
	Papers []domain.PaperRecord `json:"papers" validate:"required,min=1,dive"`
}

// searchPapers handles POST /papers/search.
// It queries the metadata source, resolves availability for every hit, and
// returns the records with obtainable papers first.
func (s *Server) searchPapers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "paper search is disabled")
		return
	}

	var req searchRequest
	if !decodeJSON(w, r, maxRequestBodySize, &req) {
		return
	}
	req.SearchString = strings.TrimSpace(req.SearchString)
	if !s.validateRequest(w, &req) {
		return
	}

	ctx := r.Context()
	result, err := s.deps.Searcher.Search(ctx, papersources.SearchParams{
		Query:      req.SearchString,
		MaxResults: req.MaxResults,
	})
	if err != nil {
		logger := observability.LoggerWithContext(ctx, s.logger)
		logger.Error().Err(err).Msg("paper search failed")
		writeDomainError(w, err)
		return
	}

	papers := s.deps.Resolver.ResolveAll(ctx, result.Papers)
	slices.SortStableFunc(papers, domain.ComparePapers)

	resp := searchResponse{
		Papers:       papers,
		Total:        len(papers),
		TotalResults: result.TotalResults,
		HasMore:      result.HasMore,
	}
	for _, p := range papers {
		switch {
		case p.Availability.IsAvailable:
			resp.AvailableCount++
		case p.Availability.IsFindable:
			resp.FindableCount++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// countPapers handles POST /papers/count.
func (s *Server) countPapers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "paper search is disabled")
		return
	}

	var req countRequest
	if !decodeJSON(w, r, maxRequestBodySize, &req) {
		return
	}
	req.SearchString = strings.TrimSpace(req.SearchString)
	if !s.validateRequest(w, &req) {
		return
	}

	count, err := s.deps.Searcher.Count(r.Context(), req.SearchString)
	if err != nil {
		logger := observability.LoggerWithContext(r.Context(), s.logger)
		logger.Error().Err(err).Msg("paper count failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, countResponse{ResultCount: count})
}

// checkAvailability handles POST /availability.
// Results follow the order of the requested DOIs.
func (s *Server) checkAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if !decodeJSON(w, r, maxRequestBodySize, &req) {
		return
	}
	for i, doi := range req.DOIs {
		req.DOIs[i] = domain.NormalizeDOI(doi)
	}
	if !s.validateRequest(w, &req) {
		return
	}

	records := make([]domain.PaperRecord, len(req.DOIs))
	for i, doi := range req.DOIs {
		records[i] = domain.PaperRecord{DOI: doi}
	}
	resolved := s.deps.Resolver.ResolveAll(r.Context(), records)

	resp := availabilityResponse{Results: make([]availabilityResult, len(resolved))}
	for i, p := range resolved {
		resp.Results[i] = availabilityResult{
			DOI:          p.DOI,
			AccessURLs:   p.AccessURLs,
			Availability: p.Availability,
		}
		if p.Availability.IsAvailable {
			resp.AvailableCount++
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// bulkDownload handles POST /bulk-download.
// It runs an acquisition batch and streams the resulting archive. The
// archive is removed once the response is written.
func (s *Server) bulkDownload(w http.ResponseWriter, r *http.Request) {
	var req bulkDownloadRequest
	if !decodeJSON(w, r, maxBatchBodySize, &req) {
		return
	}
	if !s.validateRequest(w, &req) {
		return
	}

	ctx := r.Context()
	result, err := s.deps.Batches.RunBatch(ctx, req.Papers)
	if result != nil {
		w.Header().Set(headerBatchID, result.ID.String())
		ctx = observability.WithBatchID(ctx, result.ID.String())
	}
	logger := observability.LoggerWithContext(ctx, s.logger)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyBatch) && result != nil {
			writeJSON(w, http.StatusUnprocessableEntity, emptyBatchResponse{
				Error: domain.ErrEmptyBatch.Error(),
				Batch: batchToDetailResponse(result, false),
			})
			return
		}
		logger.Error().Err(err).Msg("bulk download failed")
		writeDomainError(w, err)
		return
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Warn().Err(err).Str("path", result.ArchivePath).Msg("failed to remove archive")
		}
	}()

	f, err := os.Open(result.ArchivePath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open archive")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		logger.Error().Err(err).Msg("failed to stat archive")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveFilename))
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	h.Set(headerSucceeded, strconv.Itoa(result.SucceededCount()))
	h.Set(headerFailed, strconv.Itoa(result.FailedCount()))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		logger.Warn().Err(err).Msg("archive stream interrupted")
	}
}

// listBatches handles GET /batches.
// It returns a paginated list of batch summaries, newest first, with an
// optional repeatable status filter.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "batch history is disabled")
		return
	}

	limit, offset := parsePaginationParams(r)
	filter := repository.BatchFilter{
		Limit:  limit,
		Offset: offset,
	}
	for _, status := range r.URL.Query()["status"] {
		filter.Status = append(filter.Status, domain.BatchStatus(status))
	}

	batches, totalCount, err := s.deps.History.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries := make([]batchSummaryResponse, len(batches))
	for i, b := range batches {
		summaries[i] = summaryToResponse(b)
	}

	writeJSON(w, http.StatusOK, listBatchesResponse{
		Batches:       summaries,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getBatch handles GET /batches/{batchID}.
func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "batch history is disabled")
		return
	}

	batchID, ok := parseUUID(w, chi.URLParam(r, "batchID"), "batch_id")
	if !ok {
		return
	}

	batch, err := s.deps.History.Get(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, batchToDetailResponse(batch, true))
}

// decodeJSON reads at most limit bytes of body into dst, writing a 4xx
// response on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if int64(len(body)) > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// validateRequest runs struct validation, writing a 400 naming the first
// offending field.
func (s *Server) validateRequest(w http.ResponseWriter, req any) bool {
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s is below the minimum of %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s exceeds the maximum of %s", field, fe.Param())
	default:
		return field + " is invalid"
	}
}

// writeDomainError maps domain and upstream errors to HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrEmptyBatch):
		writeError(w, http.StatusUnprocessableEntity, domain.ErrEmptyBatch.Error())
	case errors.Is(err, pubmed.ErrDisabled), errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrNetworkTimeout):
		writeError(w, http.StatusGatewayTimeout, "upstream service timed out")
	case errors.Is(err, domain.ErrNetwork), errors.Is(err, domain.ErrLookupService):
		writeError(w, http.StatusBadGateway, "upstream service error")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}
