package commentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/logging"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

const (
	userHeader     = "X-User-ID"
	defaultTimeout = 10 * time.Second
)

// Remote - клиент HTTP API сервиса. Все запросы идут от имени userID.
type Remote struct {
	baseURL    *url.URL
	userID     string
	httpClient *http.Client
	log        *zap.Logger
}

// RemoteOption настраивает Remote.
type RemoteOption func(*Remote)

// WithHTTPClient подменяет http.Client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.httpClient = c }
}

// WithRemoteLogger задаёт логгер.
func WithRemoteLogger(l *zap.Logger) RemoteOption {
	return func(r *Remote) { r.log = logging.OrNop(l) }
}

// NewRemote создаёт клиента для baseURL (например http://localhost:8080).
func NewRemote(baseURL, userID string, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	r := &Remote{
		baseURL:    u,
		userID:     userID,
		httpClient: &http.Client{Timeout: defaultTimeout},
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// FetchThread загружает тред через GET /fines/{id}/comments.
func (r *Remote) FetchThread(ctx context.Context, fineID string) (Thread, error) {
	if strings.TrimSpace(fineID) == "" {
		return Thread{}, apperr.New(apperr.KindValidation, validation.CodeFineIDRequired, "fine id is required")
	}
	var out Thread
	if err := r.do(ctx, http.MethodGet, []string{"fines", fineID, "comments"}, nil, nil, &out); err != nil {
		return Thread{}, err
	}
	return out, nil
}

// Create отправляет новый комментарий. AuthorID должен совпадать с userID.
func (r *Remote) Create(ctx context.Context, in CreateInput) (*domain.Comment, error) {
	if err := validation.ValidateFormData(in.Form()).Err(); err != nil {
		return nil, apperr.Parse(err)
	}
	if in.AuthorID != "" && in.AuthorID != r.userID {
		return nil, apperr.New(apperr.KindAuthorization, "not_author", "cannot post on behalf of another user")
	}
	body := map[string]any{"content": in.Content, "parent_comment_id": in.ParentCommentID}
	var out domain.Comment
	if err := r.do(ctx, http.MethodPost, []string{"fines", in.FineID, "comments"}, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update меняет текст комментария.
func (r *Remote) Update(ctx context.Context, id, content string) (*domain.Comment, error) {
	if err := validation.ValidateContent(content).Err(); err != nil {
		return nil, apperr.Parse(err)
	}
	var out domain.Comment
	if err := r.do(ctx, http.MethodPatch, []string{"comments", id}, nil, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SoftDelete удаляет комментарий.
func (r *Remote) SoftDelete(ctx context.Context, id string) (*domain.Comment, error) {
	var out domain.Comment
	if err := r.do(ctx, http.MethodDelete, []string{"comments", id}, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAuthorsByIDs загружает авторов одним запросом. Годится как источник
// для authors.Resolver.
func (r *Remote) GetAuthorsByIDs(ctx context.Context, ids []string) (map[string]*domain.Author, error) {
	out := make(map[string]*domain.Author, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := url.Values{"ids": {strings.Join(ids, ",")}}
	if err := r.do(ctx, http.MethodGet, []string{"users"}, q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Remote) do(ctx context.Context, method string, path []string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	u := r.baseURL.JoinPath(path...)
	u.RawQuery = query.Encode()
	endpoint := u.String()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, r.userID)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Warn("comment api request failed", zap.String("method", method), zap.String("url", endpoint), zap.Error(err))
		return apperr.Parse(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Parse(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// responseError собирает ошибку из статуса и тела {"error": {...}}.
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error *apperr.Error `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != nil {
		message = body.Error.Message
	}

	e := apperr.FromStatus(resp.StatusCode, message)
	if body.Error != nil {
		if body.Error.Code != "" {
			e.Code = body.Error.Code
		}
		if body.Error.UserMessage != "" {
			e.UserMessage = body.Error.UserMessage
		}
	}
	return e
}
