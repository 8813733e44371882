package storage

import (
	"context"
	"errors"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

// Ошибки, общие для всех хранилищ.
var (
	ErrNotFound         = errors.New("not found")
	ErrParentNotFound   = errors.New("parent comment not found")
	ErrCommentsDisabled = errors.New("comments are disabled for this fine")
)

// CommentPatch - изменяемые поля комментария. nil - поле не трогаем.
type CommentPatch struct {
	Content *string
}

// Storage определяет контракт для хранилищ.
type Storage interface {
	CreateAuthor(ctx context.Context, author *domain.Author) (*domain.Author, error)
	GetAuthorsByIDs(ctx context.Context, ids []string) (map[string]*domain.Author, error)

	CreateFine(ctx context.Context, fine *domain.Fine) (*domain.Fine, error)
	GetFineByID(ctx context.Context, id string) (*domain.Fine, error)
	ListFines(ctx context.Context, filter domain.FineFilter) ([]*domain.Fine, error)
	ToggleComments(ctx context.Context, fineID string, enable bool) (*domain.Fine, error)

	CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error)
	GetCommentByID(ctx context.Context, id string) (*domain.Comment, error)
	UpdateComment(ctx context.Context, id string, patch CommentPatch) (*domain.Comment, error)
	SoftDeleteComment(ctx context.Context, id string) (*domain.Comment, error)

	// ListThread возвращает неудалённые комментарии треда и удалённые,
	// на которые ссылается хотя бы один из них. Авторы подгружены.
	ListThread(ctx context.Context, fineID string) ([]*domain.Comment, error)
}
