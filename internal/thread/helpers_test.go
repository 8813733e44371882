package thread

import (
	"time"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func comment(id, parent string, hour int) domain.Comment {
	c := domain.Comment{
		ID:        id,
		FineID:    "fine-1",
		AuthorID:  "user-1",
		Content:   "comment " + id,
		CreatedAt: base.Add(time.Duration(hour-9) * time.Hour),
		Author:    &domain.Author{ID: "user-1", Username: "alice"},
	}
	c.UpdatedAt = c.CreatedAt
	if parent != "" {
		p := parent
		c.ParentCommentID = &p
	}
	return c
}

// scenario: A 09:00, B 10:00, C 11:00 -> B, D 12:00 -> C.
func scenario() []domain.Comment {
	return []domain.Comment{
		comment("A", "", 9),
		comment("B", "", 10),
		comment("C", "B", 11),
		comment("D", "C", 12),
	}
}

func ids(nodes []*domain.CommentNode) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

type shapeNode struct {
	ID      string
	Replies []shapeNode
}

func shape(nodes []*domain.CommentNode) []shapeNode {
	out := make([]shapeNode, len(nodes))
	for i, n := range nodes {
		out[i] = shapeNode{ID: n.ID, Replies: shape(n.Replies)}
	}
	return out
}

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// timers подменяет time.AfterFunc и позволяет сработать таймерам вручную.
type timers struct {
	list []*fakeTimer
}

func (ts *timers) afterFunc(d time.Duration, f func()) timer {
	t := &fakeTimer{fn: f}
	ts.list = append(ts.list, t)
	return t
}

func (ts *timers) fire() {
	for _, t := range ts.list {
		if !t.stopped {
			t.stopped = true
			t.fn()
		}
	}
}

func (ts *timers) active() int {
	n := 0
	for _, t := range ts.list {
		if !t.stopped {
			n++
		}
	}
	return n
}
