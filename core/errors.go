package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	WebhookErrorBadInput        = "WEBHOOK_BAD_INPUT"
	WebhookErrorNotFound        = "WEBHOOK_NOT_FOUND"
	WebhookErrorEventNotFound   = "WEBHOOK_EVENT_NOT_FOUND"
	WebhookErrorInvalidMethod   = "WEBHOOK_INVALID_METHOD"
	DeliveryLogErrorNotFound    = "DELIVERY_LOG_NOT_FOUND"
	DeliveryErrorTransport      = "DELIVERY_TRANSPORT_FAILED"
	WebhookErrorConflict        = "WEBHOOK_CONFLICT"
	WebhookErrorInternal        = "WEBHOOK_INTERNAL_ERROR"
	WebhookErrorConfigInvalid   = "CONFIG_INVALID"
	WebhookErrorHandlerFailed   = "WEBHOOK_HANDLER_FAILED"
	WebhookErrorDiscoveryFailed = "WEBHOOK_DISCOVERY_FAILED"
)

// ErrorMapper converts arbitrary errors into rich envelopes.
type ErrorMapper func(err error) *goerrors.Error

func NewWebhookError(message string, category goerrors.Category, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return EnsureErrorEnvelope(err)
}

func WrapWebhookError(source error, category goerrors.Category, message string, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.Wrap(source, category, message).WithTextCode(textCode)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return EnsureErrorEnvelope(err)
}

func EventNotFoundError(event string) *goerrors.Error {
	return NewWebhookError("event is not registered: "+event, goerrors.CategoryNotFound, WebhookErrorEventNotFound, map[string]any{
		"event": event,
	})
}

func WebhookNotFoundError(id string) *goerrors.Error {
	return NewWebhookError("webhook not found: "+id, goerrors.CategoryNotFound, WebhookErrorNotFound, map[string]any{
		"webhook_id": id,
	})
}

func DeliveryLogNotFoundError(id string) *goerrors.Error {
	return NewWebhookError("delivery log not found: "+id, goerrors.CategoryNotFound, DeliveryLogErrorNotFound, map[string]any{
		"log_id": id,
	})
}

// MapError is the default ErrorMapper.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return EnsureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "delivery log") && strings.Contains(msg, "not found"):
		return NewWebhookError(err.Error(), goerrors.CategoryNotFound, DeliveryLogErrorNotFound, nil)
	case strings.Contains(msg, "event") && strings.Contains(msg, "not registered"):
		return NewWebhookError(err.Error(), goerrors.CategoryNotFound, WebhookErrorEventNotFound, nil)
	case strings.Contains(msg, "not found"):
		return NewWebhookError(err.Error(), goerrors.CategoryNotFound, WebhookErrorNotFound, nil)
	case strings.Contains(msg, "invalid webhook method"):
		return NewWebhookError(err.Error(), goerrors.CategoryBadInput, WebhookErrorInvalidMethod, nil)
	case strings.Contains(msg, "already exists"), strings.Contains(msg, "unique"):
		return NewWebhookError(err.Error(), goerrors.CategoryConflict, WebhookErrorConflict, nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must"):
		return NewWebhookError(err.Error(), goerrors.CategoryBadInput, WebhookErrorBadInput, nil)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return EnsureErrorEnvelope(mapped)
}

func EnsureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return WebhookErrorBadInput
	case goerrors.CategoryNotFound:
		return WebhookErrorNotFound
	case goerrors.CategoryConflict:
		return WebhookErrorConflict
	case goerrors.CategoryExternal:
		return DeliveryErrorTransport
	default:
		return WebhookErrorInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
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
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
