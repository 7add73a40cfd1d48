package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

// ErrorCategory defines categories of errors during a partition fetch
type ErrorCategory int

const (
	ErrorCategoryNone ErrorCategory = iota
	ErrorCategoryTransport
	ErrorCategoryHTTPStatus
	ErrorCategoryDecode
	ErrorCategoryDownload
	ErrorCategorySchema
	ErrorCategoryStorage
	ErrorCategoryCancelled
)

// String returns a string representation of the error category
func (ec ErrorCategory) String() string {
	switch ec {
	case ErrorCategoryNone:
		return "None"
	case ErrorCategoryTransport:
		return "Transport"
	case ErrorCategoryHTTPStatus:
		return "HTTPStatus"
	case ErrorCategoryDecode:
		return "Decode"
	case ErrorCategoryDownload:
		return "Download"
	case ErrorCategorySchema:
		return "Schema"
	case ErrorCategoryStorage:
		return "Storage"
	case ErrorCategoryCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", ec)
	}
}

// Retryable reports whether another attempt may succeed
func (ec ErrorCategory) Retryable() bool {
	switch ec {
	case ErrorCategoryTransport, ErrorCategoryHTTPStatus, ErrorCategoryDecode, ErrorCategoryDownload:
		return true
	default:
		return false
	}
}

// categorizedError carries the category chosen where the failure happened
type categorizedError struct {
	category ErrorCategory
	status   int
	err      error
}

func (e *categorizedError) Error() string { return e.err.Error() }
func (e *categorizedError) Unwrap() error { return e.err }

func newCategorizedError(category ErrorCategory, err error) error {
	return &categorizedError{category: category, err: err}
}

func statusError(status int, url string) error {
	return &categorizedError{
		category: ErrorCategoryHTTPStatus,
		status:   status,
		err:      fmt.Errorf("error %d for %s", status, url),
	}
}

// ErrorRecord represents a single error during a fetch
type ErrorRecord struct {
	Category    ErrorCategory
	PartitionID string
	JobID       string
	StatusCode  int
	Attempt     int
	Error       error
	Message     string // Derived from Error but stored for serialization
	Timestamp   time.Time
	Recoverable bool
}

// NewErrorRecord creates a new error record with current timestamp
func NewErrorRecord(err error, category ErrorCategory) ErrorRecord {
	record := ErrorRecord{
		Category:    category,
		Error:       err,
		Timestamp:   time.Now(),
		Recoverable: category.Retryable(),
	}

	var ce *categorizedError
	if errors.As(err, &ce) {
		record.StatusCode = ce.status
	}

	if err != nil {
		record.Message = err.Error()
	}

	return record
}

// WithJob adds job information to the error record
func (r ErrorRecord) WithJob(job Job) ErrorRecord {
	r.PartitionID = job.PartitionID
	r.JobID = job.ID
	return r
}

// WithAttempt sets the attempt number (1-based)
func (r ErrorRecord) WithAttempt(attempt int) ErrorRecord {
	r.Attempt = attempt
	return r
}

// String returns a formatted error message
func (r ErrorRecord) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] ", r.Category))

	if r.PartitionID != "" {
		sb.WriteString(fmt.Sprintf("Partition: %s ", r.PartitionID))
	}
	if r.StatusCode != 0 {
		sb.WriteString(fmt.Sprintf("Status: %d ", r.StatusCode))
	}
	sb.WriteString(fmt.Sprintf("Error: %s", r.Message))
	if r.Attempt > 0 {
		sb.WriteString(fmt.Sprintf(" (Attempt: %d)", r.Attempt))
	}

	return sb.String()
}

// ErrorHandler tallies fetch errors across workers
type ErrorHandler struct {
	logger          *zap.Logger
	sampleErrors    map[ErrorCategory][]ErrorRecord
	partitionErrors map[string]int
	mu              sync.Mutex
	maxSamples      int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:          logger,
		sampleErrors:    make(map[ErrorCategory][]ErrorRecord),
		partitionErrors: make(map[string]int),
		maxSamples:      5, // Store up to 5 sample errors per category
	}
}

// CategorizeError determines the category of an error
func (eh *ErrorHandler) CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}

	var ce *categorizedError
	var netErr net.Error

	switch {
	case errors.As(err, &ce):
		return ce.category
	case errors.Is(err, model.ErrStorage):
		return ErrorCategoryStorage
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCancelled
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		// A request timeout is an ordinary retryable failure
		return ErrorCategoryTransport
	default:
		return ErrorCategoryTransport
	}
}

// RecordError stores an error for reporting
func (eh *ErrorHandler) RecordError(record ErrorRecord) {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	if record.PartitionID != "" {
		eh.partitionErrors[record.PartitionID]++
	}

	if len(eh.sampleErrors[record.Category]) < eh.maxSamples {
		eh.sampleErrors[record.Category] = append(eh.sampleErrors[record.Category], record)
	}
}

// GetErrorSamples returns up to maxSamples records per category
func (eh *ErrorHandler) GetErrorSamples() map[ErrorCategory][]ErrorRecord {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	samples := make(map[ErrorCategory][]ErrorRecord, len(eh.sampleErrors))
	for k, v := range eh.sampleErrors {
		samples[k] = append([]ErrorRecord(nil), v...)
	}
	return samples
}

// GetPartitionErrorCounts returns error counts by partition
func (eh *ErrorHandler) GetPartitionErrorCounts() map[string]int {
	eh.mu.Lock()
	defer eh.mu.Unlock()

	counts := make(map[string]int, len(eh.partitionErrors))
	for k, v := range eh.partitionErrors {
		counts[k] = v
	}
	return counts
}
