package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SyncErrorBadInput               = "SYNC_BAD_INPUT"
	SyncErrorConfigNotFound         = "SYNC_CONFIG_NOT_FOUND"
	SyncErrorEventNotFound          = "SYNC_EVENT_NOT_FOUND"
	SyncErrorNotFound               = "SYNC_NOT_FOUND"
	SyncErrorInvalidStateTransition = "SYNC_INVALID_STATE_TRANSITION"
	SyncErrorConflict               = "SYNC_CONFLICT"
	SyncErrorUnauthorized           = "SYNC_UNAUTHORIZED"
	SyncErrorPersistence            = "SYNC_PERSISTENCE_ERROR"
	SyncErrorTransform              = "SYNC_TRANSFORM_ERROR"
	SyncErrorPublish                = "SYNC_PUBLISH_ERROR"
	SyncErrorRateLimited            = "SYNC_RATE_LIMITED"
	SyncErrorInternal               = "SYNC_INTERNAL_ERROR"
)

func ConfigNotFoundError(configID string) *goerrors.Error {
	return newSyncError(
		fmt.Sprintf("Sync configuration %q not found", strings.TrimSpace(configID)),
		goerrors.CategoryNotFound,
		SyncErrorConfigNotFound,
		map[string]any{"config_id": strings.TrimSpace(configID)},
	)
}

func EventNotFoundError(tenantID string, eventID string) *goerrors.Error {
	return newSyncError(
		fmt.Sprintf("Sync event %q not found", strings.TrimSpace(eventID)),
		goerrors.CategoryNotFound,
		SyncErrorEventNotFound,
		map[string]any{"tenant_id": strings.TrimSpace(tenantID), "event_id": strings.TrimSpace(eventID)},
	)
}

func InvalidStateTransitionError(eventID string, current ProcessingStatus) *goerrors.Error {
	return newSyncError(
		fmt.Sprintf("Event is not in the dead-letter queue. Current status: %s", current),
		goerrors.CategoryConflict,
		SyncErrorInvalidStateTransition,
		map[string]any{"event_id": strings.TrimSpace(eventID), "current_status": string(current)},
	)
}

func PersistenceError(source error, operation string) *goerrors.Error {
	message := "sync: persistence failure"
	if operation = strings.TrimSpace(operation); operation != "" {
		message = "sync: persistence failure during " + operation
	}
	err := goerrors.Wrap(source, goerrors.CategoryOperation, message).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode(SyncErrorPersistence)
	if operation != "" {
		err.WithMetadata(map[string]any{"operation": operation})
	}
	return err
}

func BadInputError(message string, metadata map[string]any) *goerrors.Error {
	return newSyncError(message, goerrors.CategoryBadInput, SyncErrorBadInput, metadata)
}

func NewTransformError(message string, metadata map[string]any) *goerrors.Error {
	return newSyncError(message, goerrors.CategoryValidation, SyncErrorTransform, metadata)
}

func WrapTransformError(source error, message string, metadata map[string]any) *goerrors.Error {
	err := goerrors.Wrap(source, goerrors.CategoryValidation, message).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(SyncErrorTransform)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// PublishError is returned by downstream publishers. Retryable marks
// failures worth another attempt: transport errors, timeouts, throttling and
// 5xx responses.
type PublishError struct {
	Operation  OperationKind
	StatusCode int
	Retryable  bool
	Message    string
	Cause      error
}

func (e *PublishError) Error() string {
	if e == nil {
		return ""
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = "downstream publish failed"
	}
	if e.StatusCode > 0 {
		message = fmt.Sprintf("%s (status %d)", message, e.StatusCode)
	}
	if e.Cause != nil {
		return message + ": " + e.Cause.Error()
	}
	return message
}

func (e *PublishError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *PublishError) ToServiceError() *goerrors.Error {
	if e == nil {
		return nil
	}
	category := goerrors.CategoryExternal
	if !e.Retryable && e.StatusCode >= 400 && e.StatusCode < 500 {
		category = goerrors.CategoryBadInput
	}
	err := goerrors.New(e.Error(), category).
		WithCode(http.StatusBadGateway).
		WithTextCode(SyncErrorPublish)
	err.WithMetadata(map[string]any{
		"operation":   string(e.Operation),
		"status_code": e.StatusCode,
		"retryable":   e.Retryable,
	})
	return err
}

// IsRetryable reports whether err should be retried. Errors that do not
// carry a classification are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, part := range joined.Unwrap() {
			if IsRetryable(part) {
				return true
			}
		}
		return false
	}
	var publishErr *PublishError
	if errors.As(err, &publishErr) {
		return publishErr.Retryable
	}
	return true
}

// TruncateUTF8 cuts s to at most limit bytes on a rune boundary and drops
// invalid byte sequences so the result is safe for text columns.
func TruncateUTF8(s string, limit int) string {
	s = strings.ToValidUTF8(s, "")
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func HasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

// MapError converts any error into the sync error envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return syncErrorMapper(err)
}

func syncErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSyncErrorEnvelope(richErr)
	}
	var publishErr *PublishError
	if errors.As(err, &publishErr) {
		return ensureSyncErrorEnvelope(publishErr.ToServiceError())
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newSyncError(err.Error(), goerrors.CategoryNotFound, SyncErrorNotFound, nil)
	case errors.Is(err, ErrLeaseLost):
		return newSyncError(err.Error(), goerrors.CategoryConflict, SyncErrorConflict, nil)
	case errors.Is(err, ErrInvalidSyncEventTransition):
		return newSyncError(err.Error(), goerrors.CategoryConflict, SyncErrorInvalidStateTransition, nil)
	case errors.Is(err, ErrInvalidSyncConfiguration),
		errors.Is(err, ErrInvalidDownstreamOperation),
		errors.Is(err, ErrInvalidProcessingStatus):
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput, nil)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newSyncError(err.Error(), goerrors.CategoryBadInput, SyncErrorBadInput, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSyncErrorEnvelope(mapped)
}

func newSyncError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return ensureSyncErrorEnvelope(err)
}

func ensureSyncErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSyncTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSyncTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SyncErrorBadInput
	case goerrors.CategoryNotFound:
		return SyncErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SyncErrorUnauthorized
	case goerrors.CategoryConflict:
		return SyncErrorConflict
	case goerrors.CategoryRateLimit:
		return SyncErrorRateLimited
	case goerrors.CategoryOperation:
		return SyncErrorPersistence
	case goerrors.CategoryExternal:
		return SyncErrorPublish
	default:
		return SyncErrorInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
