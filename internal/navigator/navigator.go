// Package navigator tracks the folder the user is looking at: the
// breadcrumb path from the root, and the child folders and files of the
// current folder.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitsalade/stash/internal/logging"
	"github.com/fruitsalade/stash/internal/validate"
	"github.com/fruitsalade/stash/pkg/models"
)

var (
	// ErrNoSession is returned when no user is logged in.
	ErrNoSession = errors.New("navigator: no authenticated user")
	// ErrSuperseded is returned by a load whose result was discarded
	// because a newer navigation started after it.
	ErrSuperseded = errors.New("navigator: superseded by a newer navigation")
	// ErrFolderNotFound is returned when a folder cannot be located.
	ErrFolderNotFound = errors.New("folder not found")
)

// Backend is the part of the REST client the navigator needs.
type Backend interface {
	RootFolders(ctx context.Context, userID string) ([]models.Folder, error)
	ChildFolders(ctx context.Context, folderID string) ([]models.Folder, error)
	UserFiles(ctx context.Context, userID string) ([]models.FileRecord, error)
	FolderFiles(ctx context.Context, folderID string) ([]models.FileRecord, error)
	CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error)
	RenameFolder(ctx context.Context, folderID, name string) (*models.Folder, error)
	DeleteFolder(ctx context.Context, folderID string) error
}

// UserSource supplies the logged-in user. *session.Manager implements it.
type UserSource interface {
	User() *models.User
}

// State is the navigation state.
type State int

const (
	StateRoot State = iota
	StateInFolder
)

func (s State) String() string {
	if s == StateInFolder {
		return "folder"
	}
	return "root"
}

// View is a snapshot of what the navigator shows.
type View struct {
	Path    []models.Folder
	Folders []models.Folder
	Files   []models.FileRecord
}

// State returns Root for an empty path and InFolder otherwise.
func (v View) State() State {
	if len(v.Path) == 0 {
		return StateRoot
	}
	return StateInFolder
}

// Current returns the open folder, or nil at the root.
func (v View) Current() *models.Folder {
	if len(v.Path) == 0 {
		return nil
	}
	f := v.Path[len(v.Path)-1]
	return &f
}

// CurrentID returns the ID of the open folder, or RootID.
func (v View) CurrentID() string {
	if len(v.Path) == 0 {
		return RootID
	}
	return v.Path[len(v.Path)-1].ID
}

// Depth is the number of folders in the breadcrumb path.
func (v View) Depth() int {
	return len(v.Path)
}

func (v View) clone() View {
	return View{
		Path:    append([]models.Folder(nil), v.Path...),
		Folders: append([]models.Folder(nil), v.Folders...),
		Files:   append([]models.FileRecord(nil), v.Files...),
	}
}

// Navigator is safe for concurrent use.
type Navigator struct {
	backend Backend
	users   UserSource
	tree    *Tree
	log     *zap.Logger

	mu   sync.Mutex
	view View
	gen  uint64

	// running is the refresh whose fetch is in flight; pending is the
	// next one, not yet started, that new Refresh callers join.
	running *refreshCall
	pending *refreshCall
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// New creates a navigator positioned at the root. Nothing is fetched
// until the first navigation or Refresh.
func New(backend Backend, users UserSource) *Navigator {
	return &Navigator{
		backend: backend,
		users:   users,
		tree:    NewTree(),
		log:     logging.Named("navigator"),
	}
}

// Tree returns the folder tree assembled from every listing seen so far.
func (n *Navigator) Tree() *Tree {
	return n.tree
}

// View returns a copy of the current view.
func (n *Navigator) View() View {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.view.clone()
}

// Files returns the files of the current view.
func (n *Navigator) Files() []models.FileRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.FileRecord(nil), n.view.Files...)
}

// FindFile returns a file of the current view by ID.
func (n *Navigator) FindFile(id string) (models.FileRecord, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, f := range n.view.Files {
		if f.ID == id {
			return f, true
		}
	}
	return models.FileRecord{}, false
}

// RemoveFile drops a file from the current view without a fetch.
func (n *Navigator) RemoveFile(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, f := range n.view.Files {
		if f.ID == id {
			n.view.Files = append(n.view.Files[:i:i], n.view.Files[i+1:]...)
			return true
		}
	}
	return false
}

// CurrentFolderID returns the ID of the open folder, or RootID.
func (n *Navigator) CurrentFolderID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.view.CurrentID()
}

// OpenFolder opens a child of the current folder. A folder from elsewhere
// in the hierarchy is opened with its full ancestor chain.
func (n *Navigator) OpenFolder(ctx context.Context, folder models.Folder) error {
	n.mu.Lock()
	path := append([]models.Folder(nil), n.view.Path...)
	current := n.view.CurrentID()
	n.mu.Unlock()

	if folder.ParentID == current {
		return n.load(ctx, append(path, folder))
	}
	return n.OpenByID(ctx, folder.ID)
}

// OpenByID opens a folder anywhere in the hierarchy. Unknown folders
// trigger a full tree load first.
func (n *Navigator) OpenByID(ctx context.Context, id string) error {
	if id == RootID {
		return n.BackToRoot(ctx)
	}
	chain, ok := n.tree.Ancestors(id)
	if !ok {
		if err := n.LoadTree(ctx); err != nil {
			return err
		}
		if chain, ok = n.tree.Ancestors(id); !ok {
			return fmt.Errorf("%w: %s", ErrFolderNotFound, id)
		}
	}
	return n.load(ctx, chain)
}

// NavigateToPath truncates the breadcrumb path to index+1 entries and
// opens the folder at that position.
func (n *Navigator) NavigateToPath(ctx context.Context, index int) error {
	n.mu.Lock()
	if index < 0 || index >= len(n.view.Path) {
		depth := len(n.view.Path)
		n.mu.Unlock()
		return fmt.Errorf("path index %d out of range (depth %d)", index, depth)
	}
	path := append([]models.Folder(nil), n.view.Path[:index+1]...)
	n.mu.Unlock()
	return n.load(ctx, path)
}

// BackToRoot clears the path and shows the root.
func (n *Navigator) BackToRoot(ctx context.Context) error {
	return n.load(ctx, nil)
}

// BackOneLevel opens the parent of the current folder.
func (n *Navigator) BackOneLevel(ctx context.Context) error {
	n.mu.Lock()
	var path []models.Folder
	if len(n.view.Path) > 1 {
		path = append(path, n.view.Path[:len(n.view.Path)-1]...)
	}
	n.mu.Unlock()
	return n.load(ctx, path)
}

// Refresh reloads the current view. The listing always comes from a
// fetch that started after the call. Callers arriving while a fetch is in
// flight share the single fetch queued behind it.
func (n *Navigator) Refresh(ctx context.Context) error {
	n.mu.Lock()
	if c := n.pending; c != nil {
		n.mu.Unlock()
		n.log.Debug("refresh shared with a concurrent caller")
		select {
		case <-c.done:
			return c.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c := &refreshCall{done: make(chan struct{})}
	n.pending = c
	prev := n.running
	n.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			n.mu.Lock()
			if n.pending == c {
				n.pending = nil
			}
			n.mu.Unlock()
			c.err = ctx.Err()
			close(c.done)
			return c.err
		}
	}

	n.mu.Lock()
	if n.pending == c {
		n.pending = nil
	}
	n.running = c
	path := append([]models.Folder(nil), n.view.Path...)
	n.mu.Unlock()

	c.err = n.load(ctx, path)

	n.mu.Lock()
	if n.running == c {
		n.running = nil
	}
	n.mu.Unlock()
	close(c.done)
	return c.err
}

// CreateFolder creates a folder inside the current one and refreshes.
func (n *Navigator) CreateFolder(ctx context.Context, name string) (*models.Folder, error) {
	if err := validate.FolderName(name); err != nil {
		return nil, err
	}
	parentID := n.CurrentFolderID()
	folder, err := n.backend.CreateFolder(ctx, name, parentID)
	if err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	n.log.Info("folder created", zap.String("id", folder.ID), zap.String("name", name))
	added := *folder
	added.ParentID = parentID
	n.tree.Add(added)
	if err := n.Refresh(ctx); err != nil {
		return folder, err
	}
	return folder, nil
}

// RenameFolder renames a folder. The new name is shown immediately in the
// folder list and breadcrumb, then the view is refreshed.
func (n *Navigator) RenameFolder(ctx context.Context, id, name string) error {
	if err := validate.FolderName(name); err != nil {
		return err
	}
	if _, err := n.backend.RenameFolder(ctx, id, name); err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}

	n.mu.Lock()
	for i := range n.view.Folders {
		if n.view.Folders[i].ID == id {
			n.view.Folders[i].Name = name
		}
	}
	for i := range n.view.Path {
		if n.view.Path[i].ID == id {
			n.view.Path[i].Name = name
		}
	}
	n.mu.Unlock()
	n.tree.Rename(id, name)

	return n.Refresh(ctx)
}

// DeleteFolder deletes a folder and refreshes. Deleting a folder on the
// current path returns to its parent.
func (n *Navigator) DeleteFolder(ctx context.Context, id string) error {
	if err := n.backend.DeleteFolder(ctx, id); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	n.tree.Remove(id)
	n.log.Info("folder deleted", zap.String("id", id))

	n.mu.Lock()
	cut := -1
	for i, f := range n.view.Path {
		if f.ID == id {
			cut = i
			break
		}
	}
	if cut >= 0 {
		path := append([]models.Folder(nil), n.view.Path[:cut]...)
		n.mu.Unlock()
		return n.load(ctx, path)
	}
	n.mu.Unlock()
	return n.Refresh(ctx)
}

// LoadTree fetches the whole folder hierarchy level by level.
func (n *Navigator) LoadTree(ctx context.Context) error {
	user := n.users.User()
	if user == nil {
		return ErrNoSession
	}
	roots, err := n.backend.RootFolders(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list root folders: %w", err)
	}
	n.tree.SetChildren(RootID, roots)

	level := roots
	for len(level) > 0 {
		var next []models.Folder
		for _, f := range level {
			children, err := n.backend.ChildFolders(ctx, f.ID)
			if err != nil {
				return fmt.Errorf("list children of %s: %w", f.ID, err)
			}
			n.tree.SetChildren(f.ID, children)
			next = append(next, n.tree.Children(f.ID)...)
		}
		level = next
	}
	n.log.Debug("folder tree loaded", zap.Int("folders", n.tree.Count()))
	return nil
}

// load fetches the folders and files for path and commits them together.
// Nothing changes on failure, and results older than the latest load
// are dropped.
func (n *Navigator) load(ctx context.Context, path []models.Folder) error {
	user := n.users.User()
	if user == nil {
		return ErrNoSession
	}

	n.mu.Lock()
	n.gen++
	gen := n.gen
	n.mu.Unlock()

	folderID := RootID
	if len(path) > 0 {
		folderID = path[len(path)-1].ID
	}
	folders, files, err := n.fetch(ctx, user.ID, folderID)
	if err != nil {
		n.log.Warn("failed to load folder", zap.String("folder_id", folderID), zap.Error(err))
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if gen != n.gen {
		n.log.Debug("discarding stale folder load", zap.String("folder_id", folderID))
		return ErrSuperseded
	}
	n.tree.SetChildren(folderID, folders)
	n.view = View{Path: path, Folders: n.tree.Children(folderID), Files: files}
	return nil
}

func (n *Navigator) fetch(ctx context.Context, userID, folderID string) ([]models.Folder, []models.FileRecord, error) {
	var (
		folders []models.Folder
		files   []models.FileRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if folderID == RootID {
			folders, err = n.backend.RootFolders(gctx, userID)
		} else {
			folders, err = n.backend.ChildFolders(gctx, folderID)
		}
		if err != nil {
			return fmt.Errorf("list folders: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if folderID == RootID {
			var all []models.FileRecord
			all, err = n.backend.UserFiles(gctx, userID)
			files = rootFiles(all)
		} else {
			files, err = n.backend.FolderFiles(gctx, folderID)
		}
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return folders, files, nil
}

func rootFiles(all []models.FileRecord) []models.FileRecord {
	out := make([]models.FileRecord, 0, len(all))
	for _, f := range all {
		if f.FolderID == "" {
			out = append(out, f)
		}
	}
	return out
}
