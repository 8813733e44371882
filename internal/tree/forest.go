package tree

import (
	"sort"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

// Forest хранит комментарии треда в арене по id и отдельный индекс
// родитель -> дети. Flat перебирает арену, Tree пересчитывает дерево через Build.
// Forest не потокобезопасен.
type Forest struct {
	nodes    map[string]*domain.Comment
	children map[string]map[string]struct{} // map[parentID]set[childID], "" - корни
}

// NewForest создаёт арену из плоского набора.
func NewForest(comments []domain.Comment) *Forest {
	f := &Forest{}
	f.Reset(comments)
	return f
}

// Reset полностью заменяет содержимое арены.
func (f *Forest) Reset(comments []domain.Comment) {
	f.nodes = make(map[string]*domain.Comment, len(comments))
	f.children = make(map[string]map[string]struct{})
	for i := range comments {
		f.Put(comments[i])
	}
}

// Put вставляет комментарий или заменяет существующий с тем же id.
func (f *Forest) Put(c domain.Comment) {
	if old, ok := f.nodes[c.ID]; ok {
		f.unlink(old.ID, old.ParentID())
	}
	stored := c
	f.nodes[c.ID] = &stored
	f.link(c.ID, c.ParentID())
}

// Get возвращает указатель на хранимый комментарий. Изменять ParentCommentID
// через него нельзя - для этого есть Put.
func (f *Forest) Get(id string) (*domain.Comment, bool) {
	c, ok := f.nodes[id]
	return c, ok
}

// Remove удаляет комментарий из арены. Дети остаются и при пересборке
// станут корнями, поэтому вызывающий удаляет только узлы без ответов.
func (f *Forest) Remove(id string) bool {
	c, ok := f.nodes[id]
	if !ok {
		return false
	}
	f.unlink(id, c.ParentID())
	delete(f.nodes, id)
	return true
}

// ReplyCount возвращает число прямых ответов, присутствующих в арене.
func (f *Forest) ReplyCount(id string) int {
	return len(f.children[id])
}

// Children возвращает id прямых ответов в порядке дерева.
func (f *Forest) Children(id string) []string {
	set := f.children[id]
	out := make([]*domain.Comment, 0, len(set))
	for childID := range set {
		out = append(out, f.nodes[childID])
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.ID
	}
	return ids
}

// HasReplies сообщает, есть ли у узла хотя бы один ответ.
func (f *Forest) HasReplies(id string) bool {
	return f.ReplyCount(id) > 0
}

// Len - число комментариев в арене.
func (f *Forest) Len() int {
	return len(f.nodes)
}

// Flat возвращает копии всех комментариев в детерминированном порядке.
func (f *Forest) Flat() []domain.Comment {
	out := make([]domain.Comment, 0, len(f.nodes))
	for _, c := range f.nodes {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return less(&out[i], &out[j]) })
	return out
}

// Tree пересобирает дерево из арены.
func (f *Forest) Tree() []*domain.CommentNode {
	return Build(f.Flat())
}

// Each вызывает fn для каждого узла арены, пока fn возвращает true.
func (f *Forest) Each(fn func(c *domain.Comment) bool) {
	for _, c := range f.nodes {
		if !fn(c) {
			return
		}
	}
}

func (f *Forest) link(id, parentID string) {
	set, ok := f.children[parentID]
	if !ok {
		set = make(map[string]struct{})
		f.children[parentID] = set
	}
	set[id] = struct{}{}
}

func (f *Forest) unlink(id, parentID string) {
	set, ok := f.children[parentID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(f.children, parentID)
	}
}
