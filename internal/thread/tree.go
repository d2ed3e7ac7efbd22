// Package thread keeps a comment thread's reply tree current with the replies
// pushed by the server.
package thread

import (
	"slices"

	"github.com/alphabot-ai/threadline/internal/model"
)

// Tree owns a root comment and its nested replies. It is not safe for
// concurrent use; Synchronizer guards it with its own mutex.
type Tree struct {
	root *model.Comment
}

// NewTree takes ownership of root. Existing sibling lists are sorted so the
// ordering holds from the start.
func NewTree(root *model.Comment) *Tree {
	t := &Tree{root: root}
	t.Walk(func(c *model.Comment, _ int) bool {
		sortByCreated(c.Children)
		return true
	})
	return t
}

func (t *Tree) RootID() int64 {
	return t.root.ID
}

// Insert merges reply under its parent. It returns false when the reply has
// no parent, the parent is not in the tree, or a sibling already carries the
// same id.
func (t *Tree) Insert(reply *model.Comment) bool {
	if reply == nil || reply.ParentID == nil {
		return false
	}
	parentID := *reply.ParentID

	var parent *model.Comment
	if parentID == t.root.ID {
		parent = t.root
	} else {
		parent = t.find(parentID)
	}
	if parent == nil {
		return false
	}

	for _, sibling := range parent.Children {
		if sibling.ID == reply.ID {
			return false
		}
	}
	parent.Children = append(parent.Children, reply)
	sortByCreated(parent.Children)
	return true
}

// Find returns a copy of the comment with the given id and its subtree.
func (t *Tree) Find(id int64) (*model.Comment, bool) {
	c := t.find(id)
	if c == nil {
		return nil, false
	}
	return c.Clone(), true
}

func (t *Tree) find(id int64) *model.Comment {
	stack := []*model.Comment{t.root}
	for len(stack) > 0 {
		n := len(stack) - 1
		c := stack[n]
		stack = stack[:n]
		if c.ID == id {
			return c
		}
		// Push in reverse so earlier siblings are visited first.
		for i := len(c.Children) - 1; i >= 0; i-- {
			stack = append(stack, c.Children[i])
		}
	}
	return nil
}

// Len counts every comment in the tree, root included.
func (t *Tree) Len() int {
	n := 0
	t.Walk(func(*model.Comment, int) bool {
		n++
		return true
	})
	return n
}

func (t *Tree) Snapshot() *model.Comment {
	return t.root.Clone()
}

// Walk visits the tree depth first in sibling order. fn receives the depth
// (0 for the root) and may return false to stop.
func (t *Tree) Walk(fn func(c *model.Comment, depth int) bool) {
	type frame struct {
		c     *model.Comment
		depth int
	}
	stack := []frame{{t.root, 0}}
	for len(stack) > 0 {
		n := len(stack) - 1
		f := stack[n]
		stack = stack[:n]
		if !fn(f.c, f.depth) {
			return
		}
		for i := len(f.c.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.c.Children[i], f.depth + 1})
		}
	}
}

func sortByCreated(children []*model.Comment) {
	slices.SortStableFunc(children, func(a, b *model.Comment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
