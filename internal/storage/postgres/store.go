package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/storage"
)

// Store реализует интерфейс Storage с использованием PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New создает новый экземпляр хранилища PostgreSQL.
func New(dsn string, debug bool) (*Store, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Выполняем миграцию схемы
	if err := db.AutoMigrate(&domain.Author{}, &domain.Fine{}, &domain.Comment{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// === Author Methods ===

func (s *Store) CreateAuthor(ctx context.Context, author *domain.Author) (*domain.Author, error) {
	if err := s.db.WithContext(ctx).Create(author).Error; err != nil {
		return nil, err
	}
	return author, nil
}

func (s *Store) GetAuthorsByIDs(ctx context.Context, ids []string) (map[string]*domain.Author, error) {
	var authors []*domain.Author
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&authors).Error; err != nil {
		return nil, err
	}
	result := make(map[string]*domain.Author, len(authors))
	for _, a := range authors {
		result[a.ID] = a
	}
	return result, nil
}

// === Fine Methods ===

func (s *Store) CreateFine(ctx context.Context, fine *domain.Fine) (*domain.Fine, error) {
	if fine.Kind == "" {
		fine.Kind = domain.FineKindFine
	}
	if err := s.db.WithContext(ctx).Create(fine).Error; err != nil {
		return nil, err
	}
	// GORM автоматически заполнит ID и CreatedAt после создания
	return fine, nil
}

func (s *Store) GetFineByID(ctx context.Context, id string) (*domain.Fine, error) {
	var fine domain.Fine
	if err := s.db.WithContext(ctx).First(&fine, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &fine, nil
}

func (s *Store) ListFines(ctx context.Context, filter domain.FineFilter) ([]*domain.Fine, error) {
	var fines []*domain.Fine
	query := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.OffenderID != "" {
		query = query.Where("offender_id = ?", filter.OffenderID)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	err := query.Find(&fines).Error
	return fines, err
}

func (s *Store) ToggleComments(ctx context.Context, fineID string, enable bool) (*domain.Fine, error) {
	var fine domain.Fine
	// Используем транзакцию для атомарности операции чтения-записи
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&fine, "id = ?", fineID).Error; err != nil {
			return notFound(err)
		}
		fine.CommentsEnabled = enable
		return tx.Save(&fine).Error
	})
	if err != nil {
		return nil, err
	}
	return &fine, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	// Проверяем существование штрафа и разрешение на комментирование в одной транзакции
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fine domain.Fine
		if err := tx.Select("comments_enabled").First(&fine, "id = ?", comment.FineID).Error; err != nil {
			return notFound(err)
		}
		if !fine.CommentsEnabled {
			return storage.ErrCommentsDisabled
		}

		// Если есть родитель, проверяем его существование в том же треде
		if comment.ParentCommentID != nil {
			var parentCount int64
			if err := tx.Model(&domain.Comment{}).
				Where("id = ? AND fine_id = ?", *comment.ParentCommentID, comment.FineID).
				Count(&parentCount).Error; err != nil {
				return err
			}
			if parentCount == 0 {
				return storage.ErrParentNotFound
			}
		}

		now := time.Now().UTC()
		comment.CreatedAt = now
		comment.UpdatedAt = now
		comment.IsDeleted = false
		return tx.Omit("Author").Create(comment).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetCommentByID(ctx, comment.ID)
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	var comment domain.Comment
	if err := s.db.WithContext(ctx).Preload("Author").First(&comment, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &comment, nil
}

func (s *Store) UpdateComment(ctx context.Context, id string, patch storage.CommentPatch) (*domain.Comment, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}
	res := s.db.WithContext(ctx).Model(&domain.Comment{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("comment %s: %w", id, storage.ErrNotFound)
	}
	return s.GetCommentByID(ctx, id)
}

func (s *Store) SoftDeleteComment(ctx context.Context, id string) (*domain.Comment, error) {
	res := s.db.WithContext(ctx).Model(&domain.Comment{}).
		Where("id = ?", id).
		Updates(map[string]any{"is_deleted": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("comment %s: %w", id, storage.ErrNotFound)
	}
	return s.GetCommentByID(ctx, id)
}

// threadQuery выбирает живые комментарии треда и всех их удалённых предков.
const threadQuery = `
WITH RECURSIVE kept AS (
	SELECT c.* FROM comments c
	WHERE c.fine_id = @fine AND c.is_deleted = false
	UNION
	SELECT p.* FROM comments p
	JOIN kept k ON p.id = k.parent_comment_id
	WHERE p.is_deleted = true
)
SELECT * FROM kept ORDER BY created_at ASC`

func (s *Store) ListThread(ctx context.Context, fineID string) ([]*domain.Comment, error) {
	var comments []*domain.Comment
	if err := s.db.WithContext(ctx).Raw(threadQuery, map[string]any{"fine": fineID}).Scan(&comments).Error; err != nil {
		return nil, err
	}
	if len(comments) == 0 {
		return comments, nil
	}

	// Raw не умеет Preload, авторов подтягиваем одним запросом
	ids := make([]string, 0, len(comments))
	seen := make(map[string]bool)
	for _, c := range comments {
		if !seen[c.AuthorID] {
			seen[c.AuthorID] = true
			ids = append(ids, c.AuthorID)
		}
	}
	authors, err := s.GetAuthorsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		c.Author = authors[c.AuthorID]
	}
	return comments, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", storage.ErrNotFound, err)
	}
	return err
}
