package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestValidateContent(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		valid bool
		code  string
	}{
		{name: "empty", text: "", code: CodeContentRequired},
		{name: "whitespace only", text: "  \n\t ", code: CodeContentRequired},
		{name: "single char", text: "a", valid: true},
		{name: "exactly max", text: strings.Repeat("a", 2000), valid: true},
		{name: "max after trim", text: "  " + strings.Repeat("a", 2000) + "  ", valid: true},
		{name: "over max", text: strings.Repeat("a", 2001), code: CodeContentTooLong},
		{name: "multibyte counts runes", text: strings.Repeat("ж", 2000), valid: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateContent(tt.text)
			assert.Equal(t, tt.valid, res.IsValid)
			if tt.valid {
				assert.Empty(t, res.Errors)
				assert.NoError(t, res.Err())
				return
			}
			assert.True(t, res.Has(tt.code), "expected %s in %+v", tt.code, res.Errors)
			assert.Error(t, res.Err())
		})
	}
}

func TestValidateContent_EmptyDoesNotReportLength(t *testing.T) {
	res := ValidateContent("   ")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeContentRequired, res.Errors[0].Code)
}

func TestValidateFormData(t *testing.T) {
	tests := []struct {
		name  string
		form  FormData
		codes []string
	}{
		{name: "root comment", form: FormData{Content: "hi", FineID: "fine-1"}},
		{name: "reply", form: FormData{Content: "hi", FineID: "fine-1", ParentCommentID: strPtr("c-1")}},
		{name: "missing fine", form: FormData{Content: "hi", FineID: "  "}, codes: []string{CodeFineIDRequired}},
		{name: "empty parent key", form: FormData{Content: "hi", FineID: "fine-1", ParentCommentID: strPtr(" ")}, codes: []string{CodeParentInvalid}},
		{name: "everything wrong", form: FormData{Content: "", FineID: "", ParentCommentID: strPtr("")},
			codes: []string{CodeContentRequired, CodeFineIDRequired, CodeParentInvalid}},
		{name: "too long", form: FormData{Content: strings.Repeat("x", 2001), FineID: "fine-1"}, codes: []string{CodeContentTooLong}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidateFormData(tt.form)
			assert.Equal(t, len(tt.codes) == 0, res.IsValid)
			require.Len(t, res.Errors, len(tt.codes))
			for _, code := range tt.codes {
				assert.True(t, res.Has(code), "expected %s in %+v", code, res.Errors)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	own := &domain.Comment{ID: "c1", AuthorID: "u1"}
	deleted := &domain.Comment{ID: "c2", AuthorID: "u1", IsDeleted: true}

	assert.True(t, CanEdit(own, "u1"))
	assert.True(t, CanDelete(own, "u1"))
	assert.False(t, CanEdit(own, "u2"))
	assert.False(t, CanDelete(own, "u2"))

	assert.False(t, CanEdit(deleted, "u1"))
	assert.False(t, CanDelete(deleted, "u1"))
	assert.False(t, CanEdit(deleted, "u2"))

	assert.True(t, CanReply(own))
	assert.False(t, CanReply(deleted))
	assert.False(t, CanReply(nil))
}

func TestErrorMessage(t *testing.T) {
	err := ValidateContent("").Err()
	ve, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "Comment content is required", ve.Error())
}
