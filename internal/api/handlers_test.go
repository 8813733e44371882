package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/fine-comments-service/internal/commentstore"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/metrics"
	"github.com/UkralStul/fine-comments-service/internal/realtime"
	"github.com/UkralStul/fine-comments-service/internal/storage/inmemory"
)

type testAPI struct {
	router http.Handler
	hub    *realtime.Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := realtime.NewHub(0, nil)
	store := realtime.NewPublishingStorage(inmemory.New(), hub, nil)
	router := NewRouter(Deps{
		Storage:  store,
		Comments: commentstore.New(store, commentstore.WithMetrics(m)),
		Feed:     hub,
		Gatherer: reg,
	})
	return &testAPI{router: router, hub: hub}
}

func (a *testAPI) call(t *testing.T, method, path, user string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func (a *testAPI) must(t *testing.T, status int, method, path, user string, body, out any) {
	t.Helper()
	code, raw := a.call(t, method, path, user, body)
	require.Equal(t, status, code, string(raw))
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out))
	}
}

func errorKind(t *testing.T, raw []byte) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &body), string(raw))
	return body.Error.Kind
}

type fixture struct {
	alice, bob domain.Author
	fine       domain.Fine
}

func (a *testAPI) fixture(t *testing.T) fixture {
	t.Helper()
	var f fixture
	a.must(t, http.StatusCreated, http.MethodPost, "/users", "", newUser{Username: "alice", DisplayName: "Alice"}, &f.alice)
	a.must(t, http.StatusCreated, http.MethodPost, "/users", "", newUser{Username: "bob"}, &f.bob)
	a.must(t, http.StatusCreated, http.MethodPost, "/fines", f.alice.ID,
		newFine{OffenderID: f.bob.ID, Description: "Late to standup"}, &f.fine)
	return f
}

func TestAPI_CreateFine(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)

	assert.Equal(t, "bob", f.bob.DisplayName)
	assert.Equal(t, f.alice.ID, f.fine.IssuerID)
	assert.Equal(t, domain.FineKindFine, f.fine.Kind)
	assert.Equal(t, 1, f.fine.Amount)
	assert.True(t, f.fine.CommentsEnabled)

	var got domain.Fine
	a.must(t, http.StatusOK, http.MethodGet, "/fines/"+f.fine.ID, "", nil, &got)
	assert.Equal(t, f.fine.ID, got.ID)

	var list []domain.Fine
	a.must(t, http.StatusOK, http.MethodGet, "/fines?offender_id="+f.bob.ID, "", nil, &list)
	require.Len(t, list, 1)

	code, raw := a.call(t, http.MethodGet, "/fines?limit=zero", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", errorKind(t, raw))

	code, raw = a.call(t, http.MethodGet, "/fines/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errorKind(t, raw))

	code, _ = a.call(t, http.MethodPost, "/fines", "", newFine{OffenderID: f.bob.ID, Description: "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAPI_CommentLifecycle(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)
	commentsPath := "/fines/" + f.fine.ID + "/comments"

	var root domain.Comment
	a.must(t, http.StatusCreated, http.MethodPost, commentsPath, f.bob.ID, newComment{Content: "  That was traffic  "}, &root)
	assert.Equal(t, "That was traffic", root.Content)
	assert.Equal(t, f.bob.ID, root.AuthorID)
	assert.False(t, root.IsEdited())

	var reply domain.Comment
	a.must(t, http.StatusCreated, http.MethodPost, commentsPath, f.alice.ID, newComment{Content: "Sure", ParentCommentID: &root.ID}, &reply)

	var thread commentstore.Thread
	a.must(t, http.StatusOK, http.MethodGet, commentsPath, "", nil, &thread)
	assert.Equal(t, 2, thread.TotalCount)
	require.Len(t, thread.Comments, 1)
	require.Len(t, thread.Comments[0].Replies, 1)
	assert.Equal(t, reply.ID, thread.Comments[0].Replies[0].ID)
	require.NotNil(t, thread.Comments[0].Author)
	assert.Equal(t, "bob", thread.Comments[0].Author.Username)

	code, raw := a.call(t, http.MethodPatch, "/comments/"+root.ID, f.alice.ID, commentPatch{Content: "hijack"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "authorization", errorKind(t, raw))

	var edited domain.Comment
	a.must(t, http.StatusOK, http.MethodPatch, "/comments/"+root.ID, f.bob.ID, commentPatch{Content: "Traffic, honestly"}, &edited)
	assert.Equal(t, "Traffic, honestly", edited.Content)

	code, _ = a.call(t, http.MethodDelete, "/comments/"+root.ID, f.alice.ID, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var deleted domain.Comment
	a.must(t, http.StatusOK, http.MethodDelete, "/comments/"+root.ID, f.bob.ID, nil, &deleted)
	assert.True(t, deleted.IsDeleted)

	// Удалённый корень с ответом остаётся в треде.
	a.must(t, http.StatusOK, http.MethodGet, commentsPath, "", nil, &thread)
	require.Len(t, thread.Comments, 1)
	assert.True(t, thread.Comments[0].IsDeleted)

	code, raw = a.call(t, http.MethodPost, commentsPath, f.alice.ID, newComment{Content: "late", ParentCommentID: &root.ID})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "authorization", errorKind(t, raw))

	code, _ = a.call(t, http.MethodPatch, "/comments/"+root.ID, f.bob.ID, commentPatch{Content: "again"})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestAPI_DeletedCommentHasNoText(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)
	commentsPath := "/fines/" + f.fine.ID + "/comments"

	var parent domain.Comment
	a.must(t, http.StatusCreated, http.MethodPost, commentsPath, f.bob.ID, newComment{Content: "secret words"}, &parent)
	a.must(t, http.StatusCreated, http.MethodPost, commentsPath, f.alice.ID, newComment{Content: "reply", ParentCommentID: &parent.ID}, nil)

	var deleted domain.Comment
	a.must(t, http.StatusOK, http.MethodDelete, "/comments/"+parent.ID, f.bob.ID, nil, &deleted)
	assert.Empty(t, deleted.Content)

	var got domain.Comment
	a.must(t, http.StatusOK, http.MethodGet, "/comments/"+parent.ID, "", nil, &got)
	assert.True(t, got.IsDeleted)
	assert.Empty(t, got.Content)

	code, raw := a.call(t, http.MethodGet, commentsPath, "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(raw), "secret words")
	assert.NotContains(t, string(raw), `"replies":null`)

	var thread struct {
		Comments []struct {
			Content   string            `json:"content"`
			IsDeleted bool              `json:"is_deleted"`
			Replies   []json.RawMessage `json:"replies"`
		} `json:"comments"`
	}
	require.NoError(t, json.Unmarshal(raw, &thread))
	require.Len(t, thread.Comments, 1)
	assert.True(t, thread.Comments[0].IsDeleted)
	assert.Equal(t, "", thread.Comments[0].Content)
	require.Len(t, thread.Comments[0].Replies, 1)
	assert.JSONEq(t, "[]", string(rawReplies(t, thread.Comments[0].Replies[0])))
}

// rawReplies достаёт поле replies узла как есть.
func rawReplies(t *testing.T, node json.RawMessage) json.RawMessage {
	t.Helper()
	var n struct {
		Replies json.RawMessage `json:"replies"`
	}
	require.NoError(t, json.Unmarshal(node, &n))
	return n.Replies
}

func TestAPI_CommentErrors(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)
	commentsPath := "/fines/" + f.fine.ID + "/comments"

	code, raw := a.call(t, http.MethodPost, commentsPath, "", newComment{Content: "hi"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "authentication", errorKind(t, raw))

	code, raw = a.call(t, http.MethodPost, commentsPath, f.bob.ID, newComment{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", errorKind(t, raw))

	missing := "nope"
	code, raw = a.call(t, http.MethodPost, commentsPath, f.bob.ID, newComment{Content: "hi", ParentCommentID: &missing})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", errorKind(t, raw))

	code, _ = a.call(t, http.MethodPost, commentsPath, f.bob.ID, map[string]any{"content": "hi", "extra": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = a.call(t, http.MethodPatch, "/comments/missing", f.bob.ID, commentPatch{Content: "x"})
	assert.Equal(t, http.StatusNotFound, code)

	a.must(t, http.StatusOK, http.MethodPost, "/fines/"+f.fine.ID+"/toggle-comments", f.alice.ID, toggleInput{Enable: false}, nil)
	code, raw = a.call(t, http.MethodPost, commentsPath, f.bob.ID, newComment{Content: "hi"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "authorization", errorKind(t, raw))

	code, _ = a.call(t, http.MethodPost, "/fines/missing/toggle-comments", f.alice.ID, toggleInput{Enable: true})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_Metrics(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)
	a.must(t, http.StatusOK, http.MethodGet, "/fines/"+f.fine.ID+"/comments", "", nil, nil)

	code, raw := a.call(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), "fine_comments_store_operations_total")
}

func TestAPI_WatchComments(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)
	srv := httptest.NewServer(a.router)
	t.Cleanup(srv.Close)

	feed := realtime.NewWSFeed(srv.URL, nil)
	events := make(chan domain.Event, 4)
	sub, err := feed.Subscribe(context.Background(), f.fine.ID, func(ev domain.Event) { events <- ev }, func(error) {})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	require.Eventually(t, func() bool { return a.hub.Subscribers(f.fine.ID) == 1 }, time.Second, 10*time.Millisecond)

	var created domain.Comment
	a.must(t, http.StatusCreated, http.MethodPost, "/fines/"+f.fine.ID+"/comments", f.bob.ID, newComment{Content: "live"}, &created)

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventInsert, ev.Type)
		assert.Equal(t, created.ID, ev.Comment.ID)
		assert.Nil(t, ev.Comment.Author)
	case <-time.After(2 * time.Second):
		t.Fatal("no event over websocket")
	}

	_, err = feed.Subscribe(context.Background(), "missing", func(domain.Event) {}, func(error) {})
	assert.ErrorIs(t, err, realtime.ErrChannel)
}

func TestAPI_ListUsers(t *testing.T) {
	a := newTestAPI(t)
	f := a.fixture(t)

	var found map[string]domain.Author
	a.must(t, http.StatusOK, http.MethodGet, "/users?ids="+f.alice.ID+",unknown", "", nil, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[f.alice.ID].Username)

	code, raw := a.call(t, http.MethodGet, "/users", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation", errorKind(t, raw))

	code, _ = a.call(t, http.MethodPost, "/users", "", newUser{Username: "  "})
	assert.Equal(t, http.StatusBadRequest, code)
}
