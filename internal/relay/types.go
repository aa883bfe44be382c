package relay

import (
	"net/http"
	"time"
)

// ConversionStatus is the lifecycle state of a single URL occurrence.
type ConversionStatus string

// Statuses recorded per occurrence. Pending occurrences have no result yet;
// the other three are terminal.
const (
	StatusPending ConversionStatus = "pending"
	StatusSuccess ConversionStatus = "success"
	StatusFailed  ConversionStatus = "failed"
	StatusSkipped ConversionStatus = "skipped"
)

// Terminal reports whether the status represents a completed conversion.
func (s ConversionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// StatusText returns the human-readable label shown in progress payloads.
func (s ConversionStatus) StatusText() string {
	switch s {
	case StatusSuccess:
		return "converted"
	case StatusFailed:
		return "conversion failed"
	case StatusSkipped:
		return "already mirrored"
	case StatusPending:
		return "in progress"
	default:
		return string(s)
	}
}

// URLOccurrence is one URL match at a specific position in the source text.
// Two occurrences of the same URL string are distinct occurrences.
type URLOccurrence struct {
	Raw   string `json:"raw_url"`
	Start int    `json:"start_offset"`
	End   int    `json:"end_offset"`
}

// ConversionResult is the outcome of converting one occurrence.
type ConversionResult struct {
	Status ConversionStatus
	// NewURL is the presigned link on success; on skip it echoes the
	// original URL. Empty on failure.
	NewURL string
	// Reason describes the failure. Empty unless Status is StatusFailed.
	Reason string
}

// Success builds a successful result carrying the new URL.
func Success(newURL string) ConversionResult {
	return ConversionResult{Status: StatusSuccess, NewURL: newURL}
}

// Failure builds a failed result with the given reason.
func Failure(reason string) ConversionResult {
	return ConversionResult{Status: StatusFailed, Reason: reason}
}

// Skipped builds a skipped result for URLs that already point at the store.
func Skipped(url string) ConversionResult {
	return ConversionResult{Status: StatusSkipped, NewURL: url}
}

// TaskURL is the externally visible state of one occurrence.
type TaskURL struct {
	Original   string           `json:"original_url"`
	Converted  string           `json:"oss_url,omitempty"`
	Status     ConversionStatus `json:"status"`
	StatusText string           `json:"status_text"`
	Error      string           `json:"error,omitempty"`
}

// Task is one conversion request's progress record. Snapshots returned by the
// registry are value copies and safe to read without locking.
type Task struct {
	ID            string          `json:"task_id"`
	Total         int             `json:"total"`
	Completed     int             `json:"completed"`
	URLs          []TaskURL       `json:"urls"`
	Occurrences   []URLOccurrence `json:"-"`
	OriginalText  string          `json:"-"`
	ConvertedText string          `json:"converted_text"`
	CreatedAt     time.Time       `json:"created_at"`
	Done          bool            `json:"done"`
}

// FetchRequest captures one remote download attempt.
type FetchRequest struct {
	URL     string
	Timeout time.Duration
	// MaxBytes caps the response body size; zero means the fetcher default.
	MaxBytes int64
}

// FetchResponse is the outcome of a single HTTP GET.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
