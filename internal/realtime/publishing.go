package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/storage"
)

// PublishingStorage публикует событие после каждой успешной записи комментария.
// Ошибка публикации не откатывает запись, только пишется в лог.
type PublishingStorage struct {
	storage.Storage
	pub Publisher
	log *zap.Logger
}

// NewPublishingStorage оборачивает хранилище.
func NewPublishingStorage(inner storage.Storage, pub Publisher, log *zap.Logger) *PublishingStorage {
	return &PublishingStorage{Storage: inner, pub: pub, log: logging.OrNop(log)}
}

func (s *PublishingStorage) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	created, err := s.Storage.CreateComment(ctx, comment)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.Event{Type: domain.EventInsert, Comment: *created})
	return created, nil
}

func (s *PublishingStorage) UpdateComment(ctx context.Context, id string, patch storage.CommentPatch) (*domain.Comment, error) {
	old := s.previous(ctx, id)
	updated, err := s.Storage.UpdateComment(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.Event{Type: domain.EventUpdate, Comment: *updated, OldComment: old})
	return updated, nil
}

// SoftDeleteComment публикует DELETE: для читателя мягкое удаление и есть удаление.
func (s *PublishingStorage) SoftDeleteComment(ctx context.Context, id string) (*domain.Comment, error) {
	old := s.previous(ctx, id)
	deleted, err := s.Storage.SoftDeleteComment(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, domain.Event{Type: domain.EventDelete, Comment: *deleted, OldComment: old})
	return deleted, nil
}

func (s *PublishingStorage) previous(ctx context.Context, id string) *domain.Comment {
	old, err := s.Storage.GetCommentByID(ctx, id)
	if err != nil {
		return nil
	}
	return old
}

func (s *PublishingStorage) publish(ctx context.Context, ev domain.Event) {
	// Запрос может быть уже отменён, а событие всё равно должно уйти.
	ctx = context.WithoutCancel(ctx)
	if err := s.pub.Publish(ctx, ev.Comment.FineID, ev); err != nil {
		s.log.Error("failed to publish comment event",
			zap.String("type", string(ev.Type)),
			zap.String("comment_id", ev.Comment.ID),
			zap.Error(err))
	}
}
