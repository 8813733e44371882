// Package validation содержит чистые проверки содержимого комментариев и прав.
package validation

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

// MaxContentLength - предел длины комментария после trim, в символах.
const MaxContentLength = 2000

// Коды ошибок валидации.
const (
	CodeContentRequired = "content_required"
	CodeContentTooLong  = "content_too_long"
	CodeFineIDRequired  = "fine_id_required"
	CodeParentInvalid   = "parent_comment_id_invalid"
)

// FieldError - одна проваленная проверка.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result - итог проверки.
type Result struct {
	IsValid bool         `json:"is_valid"`
	Errors  []FieldError `json:"errors"`
}

// Err возвращает nil для валидного результата, иначе *Error.
func (r Result) Err() error {
	if r.IsValid {
		return nil
	}
	return &Error{Errors: r.Errors}
}

// Has сообщает, есть ли среди ошибок данный код.
func (r Result) Has(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Error - ошибка валидации, пригодная для возврата через error.
type Error struct {
	Errors []FieldError
}

func (e *Error) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// AsError достаёт *Error из цепочки.
func AsError(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// FormData - данные формы нового комментария. ParentCommentID == nil означает
// "без родителя"; пустая строка в нём - ошибка.
type FormData struct {
	Content         string  `json:"content" validate:"notblank,maxtrimmed=2000"`
	FineID          string  `json:"fine_id" validate:"notblank"`
	ParentCommentID *string `json:"parent_comment_id,omitempty" validate:"omitnil,notblank"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("maxtrimmed", func(fl validator.FieldLevel) bool {
		limit, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) <= limit
	})
	return v
}

// ValidateContent проверяет текст комментария. Обе проверки независимы.
func ValidateContent(text string) Result {
	var errs []FieldError
	if validate.Var(text, "notblank") != nil {
		errs = append(errs, contentRequired())
	}
	if validate.Var(text, "maxtrimmed="+strconv.Itoa(MaxContentLength)) != nil {
		errs = append(errs, contentTooLong())
	}
	return result(errs)
}

// ValidateFormData проверяет форму целиком.
func ValidateFormData(form FormData) Result {
	err := validate.Struct(form)
	if err == nil {
		return result(nil)
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return result([]FieldError{{Field: "form", Code: "invalid", Message: err.Error()}})
	}

	var errs []FieldError
	for _, fe := range verrs {
		switch fe.Field() {
		case "content":
			if fe.Tag() == "maxtrimmed" {
				errs = append(errs, contentTooLong())
			} else {
				errs = append(errs, contentRequired())
			}
		case "fine_id":
			errs = append(errs, FieldError{Field: "fine_id", Code: CodeFineIDRequired, Message: "Fine ID is required"})
		case "parent_comment_id":
			errs = append(errs, FieldError{Field: "parent_comment_id", Code: CodeParentInvalid, Message: "Parent comment ID cannot be empty"})
		}
	}
	return result(errs)
}

// CanEdit: только автор и только пока комментарий не удалён.
func CanEdit(c *domain.Comment, userID string) bool {
	return c != nil && c.AuthorID == userID && !c.IsDeleted
}

// CanDelete совпадает с CanEdit, но вызывается отдельно.
func CanDelete(c *domain.Comment, userID string) bool {
	return c != nil && c.AuthorID == userID && !c.IsDeleted
}

// CanReply: отвечать можно на любой неудалённый комментарий.
func CanReply(c *domain.Comment) bool {
	return c != nil && !c.IsDeleted
}

func contentRequired() FieldError {
	return FieldError{Field: "content", Code: CodeContentRequired, Message: "Comment content is required"}
}

func contentTooLong() FieldError {
	return FieldError{
		Field:   "content",
		Code:    CodeContentTooLong,
		Message: "Comment must be " + strconv.Itoa(MaxContentLength) + " characters or less",
	}
}

func result(errs []FieldError) Result {
	if errs == nil {
		errs = []FieldError{}
	}
	return Result{IsValid: len(errs) == 0, Errors: errs}
}
