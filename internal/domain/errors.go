package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Acquisition errors. Each maps to exactly one FailureReason via ReasonFor.
var (
	// ErrNoDOI indicates that a paper has no DOI and cannot be acquired.
	ErrNoDOI = errors.New("paper has no DOI")

	// ErrLookupService indicates that the open-access lookup service failed.
	ErrLookupService = errors.New("open-access lookup failed")

	// ErrNetworkTimeout indicates that a request timed out.
	ErrNetworkTimeout = errors.New("network timeout")

	// ErrNetwork indicates a connection-level failure or a retryable server status.
	ErrNetwork = errors.New("network error")

	// ErrNotPDFResponse indicates that the response was neither a PDF nor a forced download.
	ErrNotPDFResponse = errors.New("response is not a PDF")

	// ErrUndersizedFile indicates that the downloaded body was below the minimum size.
	ErrUndersizedFile = errors.New("downloaded file is undersized")

	// ErrFileTooLarge indicates that the downloaded body exceeded the maximum size.
	ErrFileTooLarge = errors.New("downloaded file exceeds maximum size")

	// ErrBadMagicNumber indicates that the file does not start with %PDF.
	ErrBadMagicNumber = errors.New("file does not start with the PDF magic number")

	// ErrCorruptPDF indicates that the file failed structural validation.
	ErrCorruptPDF = errors.New("file failed PDF structure validation")

	// ErrBlockedURL indicates a URL that targets a private network or a disallowed scheme.
	ErrBlockedURL = errors.New("url is not allowed")

	// ErrAllSourcesExhausted indicates that every source for a paper failed.
	ErrAllSourcesExhausted = errors.New("all sources exhausted")

	// ErrEmptyBatch indicates that no paper in a batch was downloaded.
	ErrEmptyBatch = errors.New("no papers were successfully downloaded")
)

// FailureReason is the closed set of reasons a paper or batch can fail with.
type FailureReason string

// Failure reasons.
const (
	ReasonNoDOI               FailureReason = "no_doi"
	ReasonLookupService       FailureReason = "lookup_service_error"
	ReasonNetworkTimeout      FailureReason = "network_timeout"
	ReasonNetwork             FailureReason = "network_error"
	ReasonNotPDFResponse      FailureReason = "not_pdf_response"
	ReasonUndersizedFile      FailureReason = "undersized_file"
	ReasonFileTooLarge        FailureReason = "file_too_large"
	ReasonBadMagicNumber      FailureReason = "bad_magic_number"
	ReasonCorruptPDF          FailureReason = "corrupt_pdf"
	ReasonBlockedURL          FailureReason = "blocked_url"
	ReasonAllSourcesExhausted FailureReason = "all_sources_exhausted"
	ReasonEmptyBatch          FailureReason = "empty_batch"
	ReasonUnknown             FailureReason = "unknown"
)

// reasonOrder lists sentinels from most to least specific. AllSourcesExhausted
// wraps the last per-URL error, so it must be checked before the others.
var reasonOrder = []struct {
	err    error
	reason FailureReason
}{
	{ErrEmptyBatch, ReasonEmptyBatch},
	{ErrAllSourcesExhausted, ReasonAllSourcesExhausted},
	{ErrNoDOI, ReasonNoDOI},
	{ErrLookupService, ReasonLookupService},
	{ErrNetworkTimeout, ReasonNetworkTimeout},
	{ErrNetwork, ReasonNetwork},
	{ErrNotPDFResponse, ReasonNotPDFResponse},
	{ErrUndersizedFile, ReasonUndersizedFile},
	{ErrFileTooLarge, ReasonFileTooLarge},
	{ErrBadMagicNumber, ReasonBadMagicNumber},
	{ErrCorruptPDF, ReasonCorruptPDF},
	{ErrBlockedURL, ReasonBlockedURL},
}

// ReasonFor classifies err into a FailureReason. Nil maps to the empty reason.
func ReasonFor(err error) FailureReason {
	if err == nil {
		return ""
	}
	for _, r := range reasonOrder {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return ReasonUnknown
}

// WrapTransportError tags an HTTP round-trip error with ErrNetworkTimeout or
// ErrNetwork. Cancellation by the caller is returned unchanged.
func WrapTransportError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrNetwork, err)
}

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}
