// Package apperr переводит ошибки хранилища и сети в единую таксономию.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/UkralStul/fine-comments-service/internal/storage"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

// Kind - категория ошибки.
type Kind string

const (
	KindNetwork        Kind = "network"
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindNotFound       Kind = "not_found"
	KindRateLimit      Kind = "rate_limit"
	KindServerError    Kind = "server_error"
	KindUnknown        Kind = "unknown"
)

// Коды Postgres, которые разбираются отдельно.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Error - разобранная ошибка. Message - исходный текст, UserMessage - для показа.
type Error struct {
	Kind        Kind   `json:"kind"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	UserMessage string `json:"user_message"`
	Status      int    `json:"-"`
	Retryable   bool   `json:"retryable"`
	cause       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New собирает ошибку вручную.
func New(kind Kind, code, message string) *Error {
	return &Error{
		Kind:        kind,
		Code:        code,
		Message:     message,
		UserMessage: userMessage(kind),
		Status:      status(kind),
		Retryable:   retryable(kind),
	}
}

func wrap(kind Kind, code string, cause error, user string) *Error {
	e := New(kind, code, cause.Error())
	e.cause = cause
	if user != "" {
		e.UserMessage = user
	}
	return e
}

// IsRetryable сообщает, имеет ли смысл повторить операцию.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// KindOf возвращает категорию ошибки, разбирая её при необходимости.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Parse(err).Kind
}

// Parse переводит произвольную ошибку в *Error. nil остаётся nil.
func Parse(err error) *Error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	if ve, ok := validation.AsError(err); ok {
		e := wrap(KindValidation, "invalid_input", err, ve.Error())
		e.Message = "validation failed: " + ve.Error()
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return wrap(KindValidation, pgErr.Code, err, "This item already exists.")
		case pgForeignKeyViolation:
			return wrap(KindValidation, pgErr.Code, err, "A referenced item no longer exists.")
		}
		return wrap(KindServerError, pgErr.Code, err, "")
	}

	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return wrap(KindNotFound, "not_found", err, "")
	case errors.Is(err, storage.ErrParentNotFound):
		return wrap(KindValidation, "parent_missing", err, "A referenced item no longer exists.")
	case errors.Is(err, storage.ErrCommentsDisabled):
		return wrap(KindAuthorization, "comments_disabled", err, "Comments are disabled for this fine.")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return wrap(KindValidation, "duplicate", err, "This item already exists.")
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return wrap(KindValidation, "foreign_key", err, "A referenced item no longer exists.")
	case errors.Is(err, context.DeadlineExceeded):
		return wrap(KindNetwork, "timeout", err, "")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return wrap(KindNetwork, "", err, "")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(KindNetwork, "", err, "")
	}

	if looksLikeNetwork(err.Error()) {
		return wrap(KindNetwork, "", err, "")
	}
	return wrap(KindUnknown, "", err, "")
}

// FromStatus переводит HTTP-статус ответа в ошибку.
func FromStatus(code int, message string) *Error {
	var kind Kind
	switch {
	case code == http.StatusUnauthorized:
		kind = KindAuthentication
	case code == http.StatusForbidden:
		kind = KindAuthorization
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code == http.StatusTooManyRequests:
		kind = KindRateLimit
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusConflict:
		kind = KindValidation
	case code >= 500:
		kind = KindServerError
	default:
		kind = KindUnknown
	}
	if message == "" {
		message = http.StatusText(code)
	}
	return New(kind, fmt.Sprint(code), message)
}

// networkMarkers - фразы транспортных ошибок, потерявших тип при переносе
// через строку. Отдельные слова сюда не годятся: "eof" есть и в "thereof".
var networkMarkers = []string{
	"network error",
	"network is unreachable",
	"failed to fetch",
	"connection refused",
	"connection reset",
	"econnrefused",
	"i/o timeout",
	"timed out",
	"no such host",
	"broken pipe",
	"unexpected eof",
}

func looksLikeNetwork(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func retryable(kind Kind) bool {
	return kind == KindNetwork || kind == KindServerError
}

func status(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func userMessage(kind Kind) string {
	switch kind {
	case KindNetwork:
		return "Network error. Please check your connection and try again."
	case KindValidation:
		return "Please check your input and try again."
	case KindAuthentication:
		return "Please sign in to continue."
	case KindAuthorization:
		return "You do not have permission to do this."
	case KindNotFound:
		return "The requested item could not be found."
	case KindRateLimit:
		return "Too many requests. Please wait a moment and try again."
	case KindServerError:
		return "Server error. Please try again later."
	}
	return "Something went wrong. Please try again."
}
