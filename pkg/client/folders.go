package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/fruitsalade/stash/pkg/models"
	"github.com/fruitsalade/stash/pkg/protocol"
)

// RootFolders lists the user's top-level folders with their file counts.
func (c *Client) RootFolders(ctx context.Context, userID string) ([]models.Folder, error) {
	var folders []models.Folder
	path := "/folders/user/" + url.PathEscape(userID) + "/root-with-count"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &folders, true); err != nil {
		return nil, err
	}
	return folders, nil
}

// ChildFolders lists the direct children of a folder with their file counts.
func (c *Client) ChildFolders(ctx context.Context, folderID string) ([]models.Folder, error) {
	var folders []models.Folder
	path := "/folders/" + url.PathEscape(folderID) + "/children-with-count"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &folders, true); err != nil {
		return nil, err
	}
	return folders, nil
}

// CreateFolder creates a folder under parentID, or at the root when parentID is empty.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*models.Folder, error) {
	req := protocol.CreateFolderRequest{Name: name}
	if parentID != "" {
		req.ParentID = &parentID
	}
	var folder models.Folder
	if err := c.doJSON(ctx, http.MethodPost, "/folders", req, &folder, true); err != nil {
		return nil, err
	}
	return &folder, nil
}

// RenameFolder changes a folder's name.
func (c *Client) RenameFolder(ctx context.Context, folderID, name string) (*models.Folder, error) {
	var folder models.Folder
	path := "/folders/" + url.PathEscape(folderID)
	if err := c.doJSON(ctx, http.MethodPatch, path, protocol.RenameFolderRequest{Name: name}, &folder, true); err != nil {
		return nil, err
	}
	return &folder, nil
}

// DeleteFolder removes a folder.
func (c *Client) DeleteFolder(ctx context.Context, folderID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/folders/"+url.PathEscape(folderID), nil, nil, true)
}
