// Package tree строит дерево ответов из плоского набора комментариев.
package tree

import (
	"sort"

	"github.com/UkralStul/fine-comments-service/internal/domain"
)

// Build превращает плоский набор комментариев одного треда в лес.
//
// Комментарий, чей родитель отсутствует во входе, становится корнем.
// Корни и списки ответов упорядочены по created_at, при равенстве - по id.
// ReplyCount - число прямых ответов. Replies у листа - пустой срез, не nil.
func Build(comments []domain.Comment) []*domain.CommentNode {
	index := make(map[string]*domain.CommentNode, len(comments))
	order := make([]*domain.CommentNode, 0, len(comments))
	for i := range comments {
		c := comments[i]
		if _, dup := index[c.ID]; dup {
			// Повтор id: последняя версия строки побеждает.
			*index[c.ID] = domain.CommentNode{Comment: c, Replies: []*domain.CommentNode{}}
			continue
		}
		node := &domain.CommentNode{Comment: c, Replies: []*domain.CommentNode{}}
		index[c.ID] = node
		order = append(order, node)
	}

	cyclic := cycleBreakers(index)

	roots := make([]*domain.CommentNode, 0)
	for _, node := range order {
		parentID := node.ParentID()
		parent, ok := index[parentID]
		if parentID == "" || !ok || cyclic[node.ID] {
			roots = append(roots, node)
			continue
		}
		parent.Replies = append(parent.Replies, node)
	}

	for _, node := range order {
		sortNodes(node.Replies)
		node.ReplyCount = len(node.Replies)
	}
	sortNodes(roots)
	return roots
}

// Flatten обходит лес в прямом порядке и возвращает строки без Replies.
func Flatten(nodes []*domain.CommentNode) []domain.Comment {
	out := make([]domain.Comment, 0, len(nodes))
	var walk func([]*domain.CommentNode)
	walk = func(level []*domain.CommentNode) {
		for _, n := range level {
			out = append(out, n.Comment)
			walk(n.Replies)
		}
	}
	walk(nodes)
	return out
}

// CountTotalReplies считает всех потомков узла, а не только прямых.
func CountTotalReplies(node *domain.CommentNode) int {
	if node == nil {
		return 0
	}
	total := 0
	for _, r := range node.Replies {
		total += 1 + CountTotalReplies(r)
	}
	return total
}

// Find ищет узел по id в глубину.
func Find(nodes []*domain.CommentNode, id string) *domain.CommentNode {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
		if found := Find(n.Replies, id); found != nil {
			return found
		}
	}
	return nil
}

func sortNodes(nodes []*domain.CommentNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return less(&nodes[i].Comment, &nodes[j].Comment)
	})
}

func less(a, b *domain.Comment) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// cycleBreakers находит циклы по ссылкам на родителя. В каждом цикле
// отмечается узел, который сортируется первым: он станет корнем.
func cycleBreakers(index map[string]*domain.CommentNode) map[string]bool {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[string]int, len(index))
	breakers := make(map[string]bool)

	for id := range index {
		if state[id] != unvisited {
			continue
		}
		var path []string
		cur := id
		for {
			if state[cur] == done {
				break
			}
			if state[cur] == inStack {
				// Цикл - хвост path, начиная с cur.
				start := 0
				for i, p := range path {
					if p == cur {
						start = i
						break
					}
				}
				first := path[start]
				for _, p := range path[start+1:] {
					if less(&index[p].Comment, &index[first].Comment) {
						first = p
					}
				}
				breakers[first] = true
				break
			}
			state[cur] = inStack
			path = append(path, cur)
			next, ok := index[index[cur].ParentID()]
			if index[cur].ParentID() == "" || !ok {
				break
			}
			cur = next.ID
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return breakers
}
