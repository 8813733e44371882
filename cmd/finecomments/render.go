package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
	"github.com/UkralStul/fine-comments-service/internal/domain"
	"github.com/UkralStul/fine-comments-service/internal/tree"
)

const shortIDLen = 8

func renderTree(w io.Writer, nodes []*domain.CommentNode) {
	if len(nodes) == 0 {
		fmt.Fprintln(w, "(no comments yet)")
		return
	}
	for _, n := range nodes {
		renderNode(w, n, 0)
	}
}

func renderNode(w io.Writer, n *domain.CommentNode, depth int) {
	text := n.VisibleContent()
	if n.IsDeleted {
		text = "[deleted]"
	}

	var flags []string
	if n.IsEdited() && !n.IsDeleted {
		flags = append(flags, "edited")
	}
	switch s := n.Sync.(type) {
	case domain.Pending:
		flags = append(flags, "sending")
	case domain.Rejected:
		flags = append(flags, "failed: "+s.Message)
	}
	if total := tree.CountTotalReplies(n); total > 0 {
		flags = append(flags, fmt.Sprintf("%d replies", total))
	}

	line := fmt.Sprintf("%s%s %s: %s", strings.Repeat("  ", depth), shortID(n.ID), authorName(&n.Comment), text)
	if len(flags) > 0 {
		line += " (" + strings.Join(flags, ", ") + ")"
	}
	fmt.Fprintln(w, line)

	for _, r := range n.Replies {
		renderNode(w, r, depth+1)
	}
}

func shortID(id string) string {
	if domain.IsTentativeID(id) {
		return "--------"
	}
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

func authorName(c *domain.Comment) string {
	switch {
	case c.Author == nil:
		return c.AuthorID
	case c.Author.DisplayName != "":
		return c.Author.DisplayName
	}
	return c.Author.Username
}

// resolveID находит комментарий по префиксу id, как его печатает renderTree.
func resolveID(nodes []*domain.CommentNode, prefix string) (string, error) {
	if prefix == "" {
		return "", apperr.New(apperr.KindValidation, "id_required", "comment id is required")
	}
	var found []string
	for _, c := range tree.Flatten(nodes) {
		if !domain.IsTentativeID(c.ID) && strings.HasPrefix(c.ID, prefix) {
			found = append(found, c.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", apperr.New(apperr.KindNotFound, "not_found", "no comment with id "+prefix)
	case 1:
		return found[0], nil
	}
	return "", apperr.New(apperr.KindValidation, "ambiguous_id", "id prefix "+prefix+" matches several comments")
}
