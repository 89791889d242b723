package navigator

import (
	"strings"
	"sync"

	"github.com/fruitsalade/stash/pkg/models"
)

// RootID is the key of the virtual root in a Tree.
const RootID = ""

// Tree is an explicit folder hierarchy keyed by folder ID. It is filled
// from folder listings as they arrive; all traversals are iterative.
type Tree struct {
	mu       sync.RWMutex
	nodes    map[string]models.Folder
	children map[string][]string // parent ID -> child IDs, RootID for the root
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{
		nodes:    make(map[string]models.Folder),
		children: make(map[string][]string),
	}
}

// SetChildren replaces the known children of parentID. Children that
// disappeared are removed with their subtrees.
func (t *Tree) SetChildren(parentID string, folders []models.Folder) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[string]bool, len(folders))
	ids := make([]string, 0, len(folders))
	for _, f := range folders {
		f.ParentID = parentID
		if old, ok := t.nodes[f.ID]; ok && old.ParentID != parentID {
			t.unlink(old.ParentID, f.ID)
		}
		t.nodes[f.ID] = f
		keep[f.ID] = true
		ids = append(ids, f.ID)
	}
	for _, id := range t.children[parentID] {
		if !keep[id] && t.nodes[id].ParentID == parentID {
			t.removeSubtree(id)
		}
	}
	t.children[parentID] = ids
}

// Add inserts or replaces a single folder under its parent.
func (t *Tree) Add(f models.Folder) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.nodes[f.ID]; ok {
		if old.ParentID == f.ParentID {
			t.nodes[f.ID] = f
			return
		}
		t.unlink(old.ParentID, f.ID)
	}
	t.nodes[f.ID] = f
	t.children[f.ParentID] = append(t.children[f.ParentID], f.ID)
}

// Get returns the folder with the given ID.
func (t *Tree) Get(id string) (models.Folder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.nodes[id]
	return f, ok
}

// Children returns the known children of parentID in listing order.
func (t *Tree) Children(parentID string) []models.Folder {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.children[parentID]
	out := make([]models.Folder, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.nodes[id])
	}
	return out
}

// FindChild returns the child of parentID with the given name.
func (t *Tree) FindChild(parentID, name string) (models.Folder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.children[parentID] {
		if f := t.nodes[id]; f.Name == name {
			return f, true
		}
	}
	return models.Folder{}, false
}

// Ancestors returns the chain from the top-level folder down to id,
// inclusive. It fails if any link of the chain is unknown.
func (t *Tree) Ancestors(id string) ([]models.Folder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var chain []models.Folder
	seen := make(map[string]bool)
	for cur := id; cur != RootID; {
		if seen[cur] {
			return nil, false
		}
		seen[cur] = true
		f, ok := t.nodes[cur]
		if !ok {
			return nil, false
		}
		chain = append(chain, f)
		cur = f.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, true
}

// PathOf returns the slash-separated path of a folder, "/" for the root.
func (t *Tree) PathOf(id string) string {
	chain, ok := t.Ancestors(id)
	if !ok || len(chain) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, f := range chain {
		b.WriteString("/")
		b.WriteString(f.Name)
	}
	return b.String()
}

// Walk visits every known folder depth-first in listing order. Depth 0 is
// a top-level folder. Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(f models.Folder, depth int) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	type frame struct {
		id    string
		depth int
	}
	var stack []frame
	pushChildren := func(parentID string, depth int) {
		ids := t.children[parentID]
		for i := len(ids) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: ids[i], depth: depth})
		}
	}
	pushChildren(RootID, 0)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(t.nodes[top.id], top.depth) {
			return
		}
		pushChildren(top.id, top.depth+1)
	}
}

// Count returns the number of known folders.
func (t *Tree) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// Rename changes the name of a known folder.
func (t *Tree) Rename(id, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f, ok := t.nodes[id]; ok {
		f.Name = name
		t.nodes[id] = f
	}
}

// Remove deletes a folder and everything below it.
func (t *Tree) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.nodes[id]
	if !ok {
		return
	}
	t.unlink(f.ParentID, id)
	t.removeSubtree(id)
}

func (t *Tree) unlink(parentID, id string) {
	ids := t.children[parentID]
	for i, c := range ids {
		if c == id {
			t.children[parentID] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

func (t *Tree) removeSubtree(id string) {
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, t.children[cur]...)
		delete(t.nodes, cur)
		delete(t.children, cur)
	}
}
