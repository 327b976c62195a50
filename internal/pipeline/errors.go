package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrInvalidInput rejects a job before it touches any state.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSuperseded means a newer run owns the document's metadata.
	ErrSuperseded = errors.New("run superseded")
)

// Error codes prefixed onto stored error strings.
const (
	CodeTimeout         = "timeout"
	CodeAIUnavailable   = "ai_unavailable"
	CodeInvalidResponse = "invalid_response"
	CodeInternal        = "internal"
)

// HTTPStatusCoder is implemented by remote errors that carry a status code.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// TransientError marks a failure worth retrying.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string { return "transient: " + e.Cause.Error() }
func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Code  string
	Cause error
}

func (e *PermanentError) Error() string { return e.Code + ": " + e.Cause.Error() }
func (e *PermanentError) Unwrap() error { return e.Cause }

func Permanent(code string, cause error) error {
	return &PermanentError{Code: code, Cause: cause}
}

func Transient(cause error) error {
	return &TransientError{Cause: cause}
}

// IsRetryableHTTPStatus treats request timeouts, rate limits and 5xx as transient.
func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// IsTransient classifies an error coming back from the remote AI operation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

// IsTimeout reports whether a failure was ultimately caused by a deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// FormatError builds the stored error string "<code>: <detail>".
func FormatError(code, detail string) string {
	detail = Truncate(strings.TrimSpace(detail), 300)
	if detail == "" {
		return code
	}
	return fmt.Sprintf("%s: %s", code, detail)
}

// Truncate keeps at most max runes of s.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// CodeOf extracts the code prefix of a stored error string.
func CodeOf(stored string) string {
	code, _, found := strings.Cut(stored, ":")
	if !found {
		code = stored
	}
	switch code = strings.TrimSpace(code); code {
	case CodeTimeout, CodeAIUnavailable, CodeInvalidResponse, CodeInternal:
		return code
	}
	// Legacy records stored free-form text.
	if strings.Contains(strings.ToLower(stored), "timed out") || strings.Contains(strings.ToLower(stored), "timeout") {
		return CodeTimeout
	}
	return CodeInternal
}

// UserMessage never exposes the technical detail of a stored error.
func UserMessage(stored string) string {
	switch CodeOf(stored) {
	case CodeTimeout:
		return "The optimization timed out. The system may be under heavy load, please try again."
	case CodeAIUnavailable:
		return "The AI service is temporarily unavailable. Please try again in a few minutes."
	case CodeInvalidResponse:
		return "We could not process the AI response for your document. Please try again."
	default:
		return "An unexpected error occurred while optimizing your document. Please try again."
	}
}
