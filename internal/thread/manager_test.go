package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/tree"
)

type rejection struct {
	err          error
	optimisticID string
}

func newTestManager(t *testing.T) (*Manager, *timers, *[]rejection) {
	t.Helper()
	ts := &timers{}
	var rejected []rejection
	now := base.Add(24 * time.Hour)
	m := NewManager(
		WithClock(func() time.Time {
			now = now.Add(time.Second)
			return now
		}),
		WithOnError(func(err error, optimisticID string) {
			rejected = append(rejected, rejection{err: err, optimisticID: optimisticID})
		}),
	)
	m.afterFunc = ts.afterFunc
	m.SetComments(scenario())
	return m, ts, &rejected
}

func bob() domain.Author {
	return domain.Author{ID: "user-2", Username: "bob", DisplayName: "Bob"}
}

func TestManager_AddThenConfirm(t *testing.T) {
	m, _, _ := newTestManager(t)
	parent := "B"

	added := m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi", ParentCommentID: &parent}, "optimistic-1", bob())
	assert.True(t, added.IsOptimistic())
	assert.Equal(t, added.CreatedAt, added.UpdatedAt)

	b := tree.Find(m.Tree(), "B")
	require.NotNil(t, b)
	assert.Equal(t, []string{"C", "optimistic-1"}, ids(b.Replies))

	actual := added
	actual.ID = "real-1"
	actual.Sync = nil
	require.True(t, m.Confirm("optimistic-1", &actual))

	assert.Nil(t, tree.Find(m.Tree(), "optimistic-1"))
	got := tree.Find(m.Tree(), "real-1")
	require.NotNil(t, got)
	assert.False(t, got.IsOptimistic())
	assert.Equal(t, 0, m.Pending())
	assert.False(t, m.Confirm("optimistic-1", &actual), "second confirm is a no-op")
}

func TestManager_ConfirmWithoutPayloadClearsTags(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())

	require.True(t, m.Confirm("optimistic-1", nil))
	got, ok := m.Comment("optimistic-1")
	require.True(t, ok)
	assert.False(t, got.IsOptimistic())
}

func TestManager_AddThenRejectRollsBack(t *testing.T) {
	m, ts, rejected := newTestManager(t)
	before := shape(m.Tree())

	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())
	require.True(t, m.Reject("optimistic-1", "server said no"))

	node := tree.Find(m.Tree(), "optimistic-1")
	require.NotNil(t, node, "failed node stays visible during the grace window")
	assert.True(t, node.IsOptimistic())
	assert.Equal(t, "server said no", node.SyncError())

	require.Len(t, *rejected, 1)
	assert.Equal(t, "optimistic-1", (*rejected)[0].optimisticID)
	assert.EqualError(t, (*rejected)[0].err, "server said no")

	ts.fire()
	assert.Equal(t, before, shape(m.Tree()))
	assert.Equal(t, 0, m.Pending())
}

func TestManager_DeleteWithRepliesTombstones(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.DeleteOptimistic("B", "optimistic-del"))

	b := tree.Find(m.Tree(), "B")
	require.NotNil(t, b)
	assert.True(t, b.IsDeleted)
	assert.Empty(t, b.Content)
	assert.True(t, b.IsOptimistic())
	assert.Equal(t, []string{"C"}, ids(b.Replies))
	assert.Equal(t, 1, b.ReplyCount)
}

func TestManager_DeleteLeafRemoves(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.DeleteOptimistic("D", "optimistic-del"))
	assert.Nil(t, tree.Find(m.Tree(), "D"))
	c := tree.Find(m.Tree(), "C")
	assert.Equal(t, 0, c.ReplyCount)

	require.True(t, m.Confirm("optimistic-del", nil))
	assert.Nil(t, tree.Find(m.Tree(), "D"))
}

func TestManager_DeleteLeafRejectRestores(t *testing.T) {
	m, ts, _ := newTestManager(t)
	before := shape(m.Tree())

	require.NoError(t, m.DeleteOptimistic("A", "optimistic-del"))
	require.True(t, m.Reject("optimistic-del", "nope"))

	a := tree.Find(m.Tree(), "A")
	require.NotNil(t, a)
	assert.Equal(t, "nope", a.SyncError())

	ts.fire()
	a = tree.Find(m.Tree(), "A")
	require.NotNil(t, a)
	assert.False(t, a.IsOptimistic())
	assert.Equal(t, "comment A", a.Content)
	assert.Equal(t, before, shape(m.Tree()))
}

func TestManager_UpdateThenRejectRestoresSnapshot(t *testing.T) {
	m, ts, _ := newTestManager(t)
	text := "edited"

	require.NoError(t, m.UpdateOptimistic("C", Patch{Content: &text}, "optimistic-upd"))
	c, _ := m.Comment("C")
	assert.Equal(t, "edited", c.Content)
	assert.True(t, c.IsEdited())
	assert.True(t, c.IsOptimistic())

	require.True(t, m.Reject("optimistic-upd", "too slow"))
	ts.fire()

	c, _ = m.Comment("C")
	assert.Equal(t, "comment C", c.Content)
	assert.False(t, c.IsEdited())
	assert.False(t, c.IsOptimistic())
	require.NotNil(t, c.Author)
	assert.Equal(t, "alice", c.Author.Username)
	assert.Equal(t, []string{"D"}, ids(tree.Find(m.Tree(), "C").Replies))
}

func TestManager_UpdateConfirmWithPayload(t *testing.T) {
	m, _, _ := newTestManager(t)
	text := "edited"
	require.NoError(t, m.UpdateOptimistic("C", Patch{Content: &text}, "optimistic-upd"))

	server := comment("C", "B", 11)
	server.Content = "edited"
	server.UpdatedAt = server.CreatedAt.Add(time.Minute)
	require.True(t, m.Confirm("optimistic-upd", &server))

	c := tree.Find(m.Tree(), "C")
	assert.False(t, c.IsOptimistic())
	assert.Equal(t, server.UpdatedAt, c.UpdatedAt)
	assert.Equal(t, 1, c.ReplyCount)
}

func TestManager_ConfirmReparentsRepliesToTentative(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "parent"}, "optimistic-p", bob())
	parent := "optimistic-p"
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "child", ParentCommentID: &parent}, "optimistic-c", bob())

	actual, _ := m.Comment("optimistic-p")
	actual.ID = "real-p"
	require.True(t, m.Confirm("optimistic-p", &actual))

	p := tree.Find(m.Tree(), "real-p")
	require.NotNil(t, p)
	assert.Equal(t, []string{"optimistic-c"}, ids(p.Replies))
}

func TestManager_NotFound(t *testing.T) {
	m, _, _ := newTestManager(t)
	text := "x"
	assert.ErrorIs(t, m.UpdateOptimistic("nope", Patch{Content: &text}, "o1"), ErrCommentNotFound)
	assert.ErrorIs(t, m.DeleteOptimistic("nope", "o2"), ErrCommentNotFound)
	assert.False(t, m.Confirm("unknown", nil))
	assert.False(t, m.Reject("unknown", "x"))
}

func TestManager_SetCommentsDiscardsPending(t *testing.T) {
	m, ts, _ := newTestManager(t)
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())
	m.Reject("optimistic-1", "x")

	m.SetComments(scenario())
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, 0, ts.active())
	assert.Nil(t, tree.Find(m.Tree(), "optimistic-1"))
	assert.False(t, m.Confirm("optimistic-1", nil))
}

func TestManager_ClearOptimisticUpdates(t *testing.T) {
	m, _, _ := newTestManager(t)
	text := "edited"
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())
	require.NoError(t, m.UpdateOptimistic("A", Patch{Content: &text}, "optimistic-2"))

	m.ClearOptimisticUpdates()

	assert.Nil(t, tree.Find(m.Tree(), "optimistic-1"))
	a, _ := m.Comment("A")
	assert.False(t, a.IsOptimistic())
	assert.Equal(t, "edited", a.Content)
	assert.Equal(t, 0, m.Pending())
}

func TestManager_CloseStopsTimersAndIgnoresLateOutcomes(t *testing.T) {
	m, ts, rejected := newTestManager(t)
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "a"}, "optimistic-1", bob())
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "b"}, "optimistic-2", bob())
	require.True(t, m.Reject("optimistic-1", "x"))
	require.Equal(t, 1, ts.active())

	m.Close()
	assert.Equal(t, 0, ts.active())
	assert.False(t, m.Confirm("optimistic-2", nil))
	assert.False(t, m.Reject("optimistic-2", "late"))
	assert.Len(t, *rejected, 1)
}

func TestManager_ZeroGraceRollsBackImmediately(t *testing.T) {
	m := NewManager(WithGrace(0))
	m.SetComments(scenario())
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())

	require.True(t, m.Reject("optimistic-1", "x"))
	assert.Nil(t, tree.Find(m.Tree(), "optimistic-1"))
}

func TestManager_SchedulerReceivesRollback(t *testing.T) {
	ts := &timers{}
	var scheduled []func()
	m := NewManager(WithScheduler(func(f func()) { scheduled = append(scheduled, f) }))
	m.afterFunc = ts.afterFunc
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())
	m.Reject("optimistic-1", "x")

	ts.fire()
	require.Len(t, scheduled, 1)
	assert.NotNil(t, tree.Find(m.Tree(), "optimistic-1"), "rollback waits for the owner")

	scheduled[0]()
	assert.Nil(t, tree.Find(m.Tree(), "optimistic-1"))
}

func TestManager_RollbackWaitsForNextCall(t *testing.T) {
	ts := &timers{}
	m := NewManager()
	m.afterFunc = ts.afterFunc
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())
	m.Reject("optimistic-1", "x")

	ts.fire()
	m.dueMu.Lock()
	queued := len(m.due)
	m.dueMu.Unlock()
	assert.Equal(t, 1, queued, "timer only queues the rollback")

	assert.Equal(t, 0, m.Pending())
	assert.Nil(t, tree.Find(m.Tree(), "optimistic-1"))
}

func TestManager_RealTimerWithoutScheduler(t *testing.T) {
	m := NewManager(WithGrace(5 * time.Millisecond))
	m.AddOptimistic(NewComment{FineID: "fine-1", Content: "hi"}, "optimistic-1", bob())
	require.True(t, m.Reject("optimistic-1", "x"))

	// Под -race: горутина таймера не трогает дерево, откат делает вызывающий.
	require.Eventually(t, func() bool {
		return tree.Find(m.Tree(), "optimistic-1") == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Pending())
}
