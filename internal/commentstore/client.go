// Package commentstore - типизированный клиент поверх хранилища комментариев.
// Все ошибки отдаются как *apperr.Error, панике через границу не бывать.
package commentstore

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/retry"
	"github.com/UkralStul/fine-comments-service/internal/storage"
	"github.com/UkralStul/fine-comments-service/internal/tree"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

// Thread - результат fetchThread. TotalCount - размер плоского набора до сборки дерева.
type Thread struct {
	Comments   []*domain.CommentNode `json:"comments"`
	TotalCount int                   `json:"total_count"`
}

// CreateInput - данные нового комментария.
type CreateInput struct {
	Content         string  `json:"content"`
	FineID          string  `json:"fine_id"`
	AuthorID        string  `json:"author_id"`
	ParentCommentID *string `json:"parent_comment_id,omitempty"`
}

// Form возвращает данные для validation.ValidateFormData.
func (in CreateInput) Form() validation.FormData {
	return validation.FormData{Content: in.Content, FineID: in.FineID, ParentCommentID: in.ParentCommentID}
}

// Option настраивает Client.
type Option func(*Client)

// WithLogger задаёт логгер.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = logging.OrNop(l) }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithReadRetry включает повторы для чтений. Мутации не повторяются:
// повтор create может породить дубль.
func WithReadRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = &cfg }
}

// Client выполняет операции с комментариями.
type Client struct {
	store    storage.Storage
	sanitize *bluemonday.Policy
	log      *zap.Logger
	metrics  *metrics.Metrics
	retry    *retry.Config
}

// New создаёт клиента.
func New(store storage.Storage, opts ...Option) *Client {
	c := &Client{
		store:    store,
		sanitize: bluemonday.StrictPolicy(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchThread загружает тред и собирает дерево.
func (c *Client) FetchThread(ctx context.Context, fineID string) (Thread, error) {
	if strings.TrimSpace(fineID) == "" {
		return Thread{}, apperr.New(apperr.KindValidation, validation.CodeFineIDRequired, "fine id is required")
	}

	var rows []*domain.Comment
	err := c.observe("fetch_thread", func() error {
		var err error
		rows, err = read(ctx, c.retry, func(ctx context.Context) ([]*domain.Comment, error) {
			return c.store.ListThread(ctx, fineID)
		})
		return err
	})
	if err != nil {
		return Thread{}, err
	}

	flat := make([]domain.Comment, len(rows))
	for i, r := range rows {
		flat[i] = *r
		flat[i].Redact()
	}
	return Thread{Comments: tree.Build(flat), TotalCount: len(flat)}, nil
}

// Get возвращает один комментарий.
func (c *Client) Get(ctx context.Context, id string) (*domain.Comment, error) {
	var out *domain.Comment
	err := c.observe("get", func() error {
		var err error
		out, err = read(ctx, c.retry, func(ctx context.Context) (*domain.Comment, error) {
			return c.store.GetCommentByID(ctx, id)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Redact()
	return out, nil
}

// Create создаёт комментарий. Сервер назначает id и created_at = updated_at.
func (c *Client) Create(ctx context.Context, in CreateInput) (*domain.Comment, error) {
	if err := validation.ValidateFormData(in.Form()).Err(); err != nil {
		return nil, apperr.Parse(err)
	}
	content := c.clean(in.Content)
	if err := validation.ValidateContent(content).Err(); err != nil {
		return nil, apperr.Parse(err)
	}

	var out *domain.Comment
	err := c.observe("create", func() error {
		var err error
		out, err = c.store.CreateComment(ctx, &domain.Comment{
			FineID:          in.FineID,
			AuthorID:        in.AuthorID,
			ParentCommentID: in.ParentCommentID,
			Content:         content,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update меняет текст комментария.
func (c *Client) Update(ctx context.Context, id, content string) (*domain.Comment, error) {
	if err := validation.ValidateContent(content).Err(); err != nil {
		return nil, apperr.Parse(err)
	}

	cleaned := c.clean(content)
	if err := validation.ValidateContent(cleaned).Err(); err != nil {
		return nil, apperr.Parse(err)
	}
	var out *domain.Comment
	err := c.observe("update", func() error {
		var err error
		out, err = c.store.UpdateComment(ctx, id, storage.CommentPatch{Content: &cleaned})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDelete помечает комментарий удалённым.
func (c *Client) SoftDelete(ctx context.Context, id string) (*domain.Comment, error) {
	var out *domain.Comment
	err := c.observe("soft_delete", func() error {
		var err error
		out, err = c.store.SoftDeleteComment(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Redact()
	return out, nil
}

// clean вырезает разметку. Sanitize экранирует текст для HTML, а хранится
// простой текст, поэтому сущности разворачиваются обратно.
func (c *Client) clean(content string) string {
	return strings.TrimSpace(html.UnescapeString(c.sanitize.Sanitize(strings.TrimSpace(content))))
}

// read выполняет чтение, повторяя его при cfg != nil.
func read[T any](ctx context.Context, cfg *retry.Config, fn func(ctx context.Context) (T, error)) (T, error) {
	call := func(ctx context.Context) (T, error) {
		v, err := fn(ctx)
		if err != nil {
			return v, apperr.Parse(err)
		}
		return v, nil
	}
	if cfg == nil {
		return call(ctx)
	}
	return retry.Do(ctx, *cfg, call)
}

// observe переводит ошибку в таксономию, пишет лог и метрики.
func (c *Client) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start).Seconds()
	if err == nil {
		c.metrics.StoreOp(op, "ok", elapsed)
		return nil
	}

	parsed := apperr.Parse(err)
	c.metrics.StoreOp(op, string(parsed.Kind), elapsed)
	if parsed.Kind == apperr.KindValidation || parsed.Kind == apperr.KindNotFound {
		c.log.Debug("comment store call failed", zap.String("op", op), zap.Error(parsed))
	} else {
		c.log.Warn("comment store call failed", zap.String("op", op), zap.String("kind", string(parsed.Kind)), zap.Error(parsed))
	}
	return parsed
}
