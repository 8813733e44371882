package apperr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/UkralStul/fine-comments-service/internal/storage"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      Kind
		code      string
		retryable bool
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505", Message: "duplicate key"}, kind: KindValidation, code: "23505"},
		{name: "fk violation wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), kind: KindValidation, code: "23503"},
		{name: "other pg error", err: &pgconn.PgError{Code: "57014"}, kind: KindServerError, code: "57014", retryable: true},
		{name: "storage not found", err: fmt.Errorf("comment x: %w", storage.ErrNotFound), kind: KindNotFound, code: "not_found"},
		{name: "gorm not found", err: gorm.ErrRecordNotFound, kind: KindNotFound, code: "not_found"},
		{name: "comments disabled", err: storage.ErrCommentsDisabled, kind: KindAuthorization, code: "comments_disabled"},
		{name: "parent missing", err: storage.ErrParentNotFound, kind: KindValidation, code: "parent_missing"},
		{name: "gorm duplicate", err: gorm.ErrDuplicatedKey, kind: KindValidation, code: "duplicate"},
		{name: "deadline", err: context.DeadlineExceeded, kind: KindNetwork, code: "timeout", retryable: true},
		{name: "network text", err: errors.New("Failed to fetch"), kind: KindNetwork, retryable: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), kind: KindNetwork, retryable: true},
		{name: "validation", err: validation.ValidateContent("").Err(), kind: KindValidation, code: "invalid_input"},
		{name: "eof", err: fmt.Errorf("read body: %w", io.EOF), kind: KindNetwork, retryable: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, kind: KindNetwork, retryable: true},
		{name: "eof inside a word", err: errors.New("the fine and the appeal thereof"), kind: KindUnknown},
		{name: "fetch inside a word", err: errors.New("prefetched rows mismatch"), kind: KindUnknown},
		{name: "unknown", err: errors.New("weird"), kind: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.NotEmpty(t, got.UserMessage)
			assert.NotEqual(t, got.Message, got.UserMessage)
		})
	}
}

func TestParse_NilAndPassthrough(t *testing.T) {
	assert.Nil(t, Parse(nil))

	orig := New(KindRateLimit, "429", "slow down")
	wrapped := fmt.Errorf("call: %w", orig)
	assert.Same(t, orig, Parse(wrapped))
}

func TestParse_KeepsCause(t *testing.T) {
	got := Parse(fmt.Errorf("x: %w", storage.ErrNotFound))
	assert.True(t, errors.Is(got, storage.ErrNotFound))
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthorization},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindServerError},
		{http.StatusBadGateway, KindServerError},
		{http.StatusBadRequest, KindValidation},
		{http.StatusTeapot, KindUnknown},
	}
	for _, tt := range tests {
		e := FromStatus(tt.status, "")
		assert.Equal(t, tt.kind, e.Kind, "status %d", tt.status)
		assert.Equal(t, tt.kind == KindServerError, e.Retryable)
	}
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, New(KindNotFound, "", "x").Status)
	assert.Equal(t, http.StatusBadRequest, New(KindValidation, "", "x").Status)
	assert.Equal(t, http.StatusForbidden, New(KindAuthorization, "", "x").Status)
	assert.Equal(t, http.StatusInternalServerError, New(KindUnknown, "", "x").Status)
}
