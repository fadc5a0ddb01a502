// Package remote reproduces local trees in a hierarchical remote store that
// identifies folders by (parent, name). Concrete stores live in the
// sub-packages.
package remote

import (
	"context"
	"errors"
)

var (
	// ErrUnauthorized marks calls the store rejected for credentials. It is
	// fatal for the whole run.
	ErrUnauthorized = errors.New("remote store rejected credentials")
	ErrNotDirectory = errors.New("upload source is not a directory")
	ErrEmptyName    = errors.New("folder name cannot be empty")
)

// FolderID is an opaque folder identifier issued by a store.
type FolderID string

type Folder struct {
	ID      FolderID
	Name    string
	Trashed bool
}

// UploadedFile describes a file accepted by the store.
type UploadedFile struct {
	ID   string
	Name string
	Size int64
	Link string
}

// Store is the minimal set of remote calls needed to resolve folder paths and
// upload trees. Implementations must be safe for concurrent use.
type Store interface {
	// Root is the folder every destination path is resolved from.
	Root() FolderID
	// ListFolders returns folders named name directly under parent, in the
	// store's listing order. Trashed folders may be included and flagged.
	ListFolders(ctx context.Context, name string, parent FolderID) ([]Folder, error)
	CreateFolder(ctx context.Context, name string, parent FolderID) (FolderID, error)
	UploadFile(ctx context.Context, localPath string, parent FolderID) (*UploadedFile, error)
}

// IsFatal reports whether err must abort the run instead of being recorded.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
