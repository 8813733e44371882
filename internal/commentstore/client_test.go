package commentstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/retry"
	"github.com/UkralStul/fine-comments-service/internal/storage"
	"github.com/UkralStul/fine-comments-service/internal/storage/inmemory"
	"github.com/UkralStul/fine-comments-service/internal/validation"
)

func setup(t *testing.T, opts ...Option) (*Client, *domain.Fine, *domain.Author) {
	t.Helper()
	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store := inmemory.New().WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	ctx := context.Background()
	author, err := store.CreateAuthor(ctx, &domain.Author{Username: "bob", DisplayName: "Bob"})
	require.NoError(t, err)
	fine, err := store.CreateFine(ctx, &domain.Fine{OffenderID: author.ID, IssuerID: author.ID, Description: "x", CommentsEnabled: true})
	require.NoError(t, err)
	return New(store, opts...), fine, author
}

func TestClient_CreateAndFetchThread(t *testing.T) {
	c, fine, author := setup(t)
	ctx := context.Background()

	root, err := c.Create(ctx, CreateInput{Content: "  root  ", FineID: fine.ID, AuthorID: author.ID})
	require.NoError(t, err)
	assert.Equal(t, "root", root.Content)
	assert.Equal(t, root.CreatedAt, root.UpdatedAt)
	require.NotNil(t, root.Author)
	assert.Equal(t, "bob", root.Author.Username)

	_, err = c.Create(ctx, CreateInput{Content: "reply", FineID: fine.ID, AuthorID: author.ID, ParentCommentID: &root.ID})
	require.NoError(t, err)

	thread, err := c.FetchThread(ctx, fine.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, thread.TotalCount)
	require.Len(t, thread.Comments, 1)
	assert.Equal(t, 1, thread.Comments[0].ReplyCount)
	assert.Equal(t, "reply", thread.Comments[0].Replies[0].Content)
}

func TestClient_Create_SanitizesMarkup(t *testing.T) {
	c, fine, author := setup(t)

	got, err := c.Create(context.Background(), CreateInput{Content: "<b>hi</b><script>x()</script>", FineID: fine.ID, AuthorID: author.ID})
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Content)
}

func TestClient_Create_KeepsPlainText(t *testing.T) {
	c, fine, author := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "apostrophe", in: "don't", want: "don't"},
		{name: "ampersand", in: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "less than", in: "a < b", want: "a < b"},
		{name: "quotes", in: `say "hi"`, want: `say "hi"`},
		{name: "max length of ampersands", in: strings.Repeat("&", validation.MaxContentLength), want: strings.Repeat("&", validation.MaxContentLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Create(ctx, CreateInput{Content: tt.in, FineID: fine.ID, AuthorID: author.ID})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Content)
		})
	}
}

func TestClient_MarkupOnlyIsRejected(t *testing.T) {
	c, fine, author := setup(t)
	ctx := context.Background()

	_, err := c.Create(ctx, CreateInput{Content: "<b></b>", FineID: fine.ID, AuthorID: author.ID})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	ve, ok := validation.AsError(err)
	require.True(t, ok)
	assert.Equal(t, validation.CodeContentRequired, ve.Errors[0].Code)

	created, err := c.Create(ctx, CreateInput{Content: "text", FineID: fine.ID, AuthorID: author.ID})
	require.NoError(t, err)
	_, err = c.Update(ctx, created.ID, "<i> </i>")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "text", got.Content)
}

func TestClient_Create_ValidationBeforeStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c, fine, author := setup(t, WithMetrics(m))

	_, err := c.Create(context.Background(), CreateInput{Content: "   ", FineID: fine.ID, AuthorID: author.ID})
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Equal(t, 0, testutil.CollectAndCount(m.StoreOps))

	_, err = c.Create(context.Background(), CreateInput{Content: strings.Repeat("a", validation.MaxContentLength+1), FineID: fine.ID, AuthorID: author.ID})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestClient_Errors(t *testing.T) {
	c, fine, author := setup(t)
	ctx := context.Background()

	missing := "nope"
	_, err := c.Create(ctx, CreateInput{Content: "x", FineID: fine.ID, AuthorID: author.ID, ParentCommentID: &missing})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = c.Update(ctx, "missing", "text")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = c.FetchThread(ctx, " ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestClient_UpdateAndSoftDelete(t *testing.T) {
	c, fine, author := setup(t)
	ctx := context.Background()

	created, err := c.Create(ctx, CreateInput{Content: "first", FineID: fine.ID, AuthorID: author.ID})
	require.NoError(t, err)

	updated, err := c.Update(ctx, created.ID, "second")
	require.NoError(t, err)
	assert.Equal(t, "second", updated.Content)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	deleted, err := c.SoftDelete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Empty(t, deleted.Content)

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)
}

func TestClient_FetchThread_DeletedParentHasNoText(t *testing.T) {
	c, fine, author := setup(t)
	ctx := context.Background()

	parent, err := c.Create(ctx, CreateInput{Content: "secret words", FineID: fine.ID, AuthorID: author.ID})
	require.NoError(t, err)
	_, err = c.Create(ctx, CreateInput{Content: "reply", FineID: fine.ID, AuthorID: author.ID, ParentCommentID: &parent.ID})
	require.NoError(t, err)
	_, err = c.SoftDelete(ctx, parent.ID)
	require.NoError(t, err)

	thread, err := c.FetchThread(ctx, fine.ID)
	require.NoError(t, err)
	require.Len(t, thread.Comments, 1)
	assert.True(t, thread.Comments[0].IsDeleted)
	assert.Empty(t, thread.Comments[0].Content)
	assert.Equal(t, "reply", thread.Comments[0].Replies[0].Content)
}

type flakyStore struct {
	storage.Storage
	failures int
	calls    int
}

func (f *flakyStore) ListThread(ctx context.Context, fineID string) ([]*domain.Comment, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return []*domain.Comment{}, nil
}

func TestClient_ReadRetry(t *testing.T) {
	fs := &flakyStore{failures: 2}
	c := New(fs, WithReadRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}))

	thread, err := c.FetchThread(context.Background(), "fine")
	require.NoError(t, err)
	assert.Equal(t, 0, thread.TotalCount)
	assert.Equal(t, 3, fs.calls)
}

func TestClient_NoRetryByDefault(t *testing.T) {
	fs := &flakyStore{failures: 1}
	c := New(fs)

	_, err := c.FetchThread(context.Background(), "fine")
	assert.Equal(t, apperr.KindNetwork, apperr.KindOf(err))
	assert.Equal(t, 1, fs.calls)
}
