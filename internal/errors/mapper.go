package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ErrorMapper maps external errors to the sitewise error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper implements the sitewise error taxonomy mapping
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps raw backend errors to sitewise categories. Errors that already carry a
// category are returned unchanged.
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	if hasCategory(err) {
		return err
	}

	// Propagate cancellation as-is
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("provider rejected request (status %d): %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrProvider)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 0 {
			return fmt.Errorf("%v: %w", err, ErrNetwork)
		}
		return fmt.Errorf("provider request failed (status %d): %w", reqErr.HTTPStatusCode, ErrProvider)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%v: %w", err, ErrNetwork)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%v: %w", err, ErrNetwork)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrNetwork)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "connection reset"), strings.Contains(errStr, "unreachable"),
		strings.Contains(errStr, "eof"):
		return fmt.Errorf("%v: %w", err, ErrNetwork)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return fmt.Errorf("%v: %w", err, ErrNetwork)

	case strings.Contains(errStr, "malformed"), strings.Contains(errStr, "invalid character"),
		strings.Contains(errStr, "unexpected end of json"):
		return fmt.Errorf("%v: %w", err, ErrProtocol)

	default:
		return fmt.Errorf("%v: %w", err, ErrProvider)
	}
}

// IsRetryable reports whether an orchestrator failure is eligible for the fallback path.
// Caller cancellation is never retried.
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsFallbackEligible(err)
}

// Category returns the sitewise error category for an error
func (m *DefaultErrorMapper) Category(err error) string {
	return Kind(err)
}

// Kind returns the taxonomy name of err, or "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrNetwork):
		return "NetworkError"
	case errors.Is(err, ErrProtocol):
		return "ProtocolError"
	case errors.Is(err, ErrProvider):
		return "ProviderError"
	case errors.Is(err, ErrTimeout):
		return "TimeoutError"
	case errors.Is(err, ErrToolValidation):
		return "ToolValidationError"
	case errors.Is(err, ErrToolExecution):
		return "ToolExecutionError"
	case errors.Is(err, ErrToolNotFound):
		return "ToolNotFoundError"
	case errors.Is(err, ErrProviderUnsupportedFeature):
		return "ProviderUnsupportedFeatureError"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInputError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrConflict):
		return "ConflictError"
	case errors.Is(err, ErrInternal):
		return "InternalError"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	default:
		return "Unknown"
	}
}

// FromKind rebuilds a categorized error from a taxonomy name reported over the wire.
func FromKind(kind, message string) error {
	for _, category := range categories {
		if Kind(category) == kind {
			return fmt.Errorf("%s: %w", message, category)
		}
	}
	if kind == "Canceled" {
		return context.Canceled
	}
	return fmt.Errorf("%s: %w", message, ErrProvider)
}

var categories = []error{
	ErrNetwork, ErrProtocol, ErrProvider, ErrTimeout, ErrToolValidation, ErrToolExecution,
	ErrToolNotFound, ErrProviderUnsupportedFeature, ErrInvalidInput, ErrNotFound, ErrConflict, ErrInternal,
}

func hasCategory(err error) bool {
	for _, category := range categories {
		if errors.Is(err, category) {
			return true
		}
	}
	return false
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error with a specific category, keeping the cause in the message
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %v: %w", message, err, category)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// IsFallbackEligible reports whether a failure escaping the step loop may be retried on the
// reduced-capability path. Caller cancellation never is.
func IsFallbackEligible(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Network wraps message as a transport failure
func Network(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNetwork)
}

// Protocol wraps message as a malformed stream failure
func Protocol(message string) error {
	return fmt.Errorf("%s: %w", message, ErrProtocol)
}

// Provider wraps message as a provider-reported failure
func Provider(message string) error {
	return fmt.Errorf("%s: %w", message, ErrProvider)
}

// Timeout wraps message as a step timeout
func Timeout(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTimeout)
}

// ToolValidation wraps message as a schema violation
func ToolValidation(message string) error {
	return fmt.Errorf("%s: %w", message, ErrToolValidation)
}

// ToolExecution wraps message as a handler failure
func ToolExecution(message string) error {
	return fmt.Errorf("%s: %w", message, ErrToolExecution)
}

// Unsupported wraps message as an unsupported provider feature
func Unsupported(message string) error {
	return fmt.Errorf("%s: %w", message, ErrProviderUnsupportedFeature)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Conflict wraps error as conflict
func Conflict(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConflict)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}
