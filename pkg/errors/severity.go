// Package errors provides severity-aware errors for catalog scraping.
package errors

import "fmt"

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ScrapeError is a structured error with the catalog node it concerns.
type ScrapeError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	NodeID      string   `json:"node_id,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Err         error    `json:"-"`
}

func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
	if e.NodeID != "" {
		msg += fmt.Sprintf(" (node: %s)", e.NodeID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Is matches any ScrapeError carrying the same code, so the sentinels below
// work with errors.Is regardless of node or message.
func (e *ScrapeError) Is(target error) bool {
	t, ok := target.(*ScrapeError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTransientNetwork = "TRANSIENT_NETWORK"
	ErrCodeUnexpectedStatus = "UNEXPECTED_STATUS"
	ErrCodeMalformedPricing = "MALFORMED_PRICING"
	ErrCodeStoreWrite       = "STORE_WRITE_FAILED"
)

// Sentinels for errors.Is.
var (
	ErrRateLimited      = &ScrapeError{Code: ErrCodeRateLimited}
	ErrNotFound         = &ScrapeError{Code: ErrCodeNotFound}
	ErrTransientNetwork = &ScrapeError{Code: ErrCodeTransientNetwork}
	ErrUnexpectedStatus = &ScrapeError{Code: ErrCodeUnexpectedStatus}
	ErrMalformedPricing = &ScrapeError{Code: ErrCodeMalformedPricing}
	ErrStoreWrite       = &ScrapeError{Code: ErrCodeStoreWrite}
)

// NewRateLimitedError is returned once the retry budget for 429 responses is spent.
func NewRateLimitedError(nodeID string, attempts int) *ScrapeError {
	return &ScrapeError{
		Code:        ErrCodeRateLimited,
		Message:     fmt.Sprintf("still rate limited after %d attempts", attempts),
		Severity:    SeverityError,
		NodeID:      nodeID,
		Recoverable: true,
	}
}

// NewNotFoundError marks an expected absence. Callers usually swallow it.
func NewNotFoundError(nodeID string) *ScrapeError {
	return &ScrapeError{
		Code:        ErrCodeNotFound,
		Message:     "resource not found",
		Severity:    SeverityInfo,
		NodeID:      nodeID,
		Recoverable: true,
	}
}

// NewTransientNetworkError wraps a transport failure for one node.
func NewTransientNetworkError(nodeID string, err error) *ScrapeError {
	return &ScrapeError{
		Code:        ErrCodeTransientNetwork,
		Message:     "request failed",
		Severity:    SeverityWarning,
		NodeID:      nodeID,
		Recoverable: true,
		Err:         err,
	}
}

// NewUnexpectedStatusError reports a non-2xx status other than 404 and 429.
func NewUnexpectedStatusError(nodeID string, status int) *ScrapeError {
	return &ScrapeError{
		Code:        ErrCodeUnexpectedStatus,
		Message:     fmt.Sprintf("unexpected HTTP status %d", status),
		Severity:    SeverityWarning,
		NodeID:      nodeID,
		Recoverable: true,
	}
}

// NewMalformedPricingError reports a pricing leaf that cannot be normalized.
func NewMalformedPricingError(nodeID, reason string) *ScrapeError {
	return &ScrapeError{
		Code:        ErrCodeMalformedPricing,
		Message:     reason,
		Severity:    SeverityWarning,
		NodeID:      nodeID,
		Recoverable: true,
	}
}

// NewStoreWriteError is fatal to a scrape run.
func NewStoreWriteError(err error) *ScrapeError {
	return &ScrapeError{
		Code:        ErrCodeStoreWrite,
		Message:     "failed to write products",
		Severity:    SeverityFatal,
		Recoverable: false,
		Err:         err,
	}
}
