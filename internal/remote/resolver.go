package remote

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1024

type cacheKey struct {
	parent FolderID
	name   string
}

// Resolver maps folder names to ids one level at a time. Its cache must not
// outlive a single backup run: other clients may rename or trash folders
// between runs.
type Resolver struct {
	store Store
	cache *lru.Cache[cacheKey, FolderID]
}

func NewResolver(store Store) *Resolver {
	cache, _ := lru.New[cacheKey, FolderID](defaultCacheSize)
	return &Resolver{
		store: store,
		cache: cache,
	}
}

func (r *Resolver) Store() Store {
	return r.store
}

// FindFolder returns the first non-trashed folder named exactly name under
// parent. Duplicates left by racing creators are not merged.
func (r *Resolver) FindFolder(ctx context.Context, name string, parent FolderID) (FolderID, bool, error) {
	if name == "" {
		return "", false, ErrEmptyName
	}

	key := cacheKey{parent: parent, name: name}
	if id, ok := r.cache.Get(key); ok {
		return id, true, nil
	}

	folders, err := r.store.ListFolders(ctx, name, parent)
	if err != nil {
		return "", false, fmt.Errorf("list folders %q: %w", name, err)
	}

	for _, f := range folders {
		if f.Trashed || f.Name != name {
			continue
		}
		r.cache.Add(key, f.ID)
		return f.ID, true, nil
	}

	return "", false, nil
}

// CreateFolder always creates a new folder. Call FindFolder first when a
// duplicate is not acceptable.
func (r *Resolver) CreateFolder(ctx context.Context, name string, parent FolderID) (FolderID, error) {
	if name == "" {
		return "", ErrEmptyName
	}

	id, err := r.store.CreateFolder(ctx, name, parent)
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}

	// the first folder seen for a key stays cached, matching FindFolder
	r.cache.ContainsOrAdd(cacheKey{parent: parent, name: name}, id)
	return id, nil
}

// ResolvePath walks names from root, reusing existing folders and creating the
// missing ones, and returns the id of the last level.
func (r *Resolver) ResolvePath(ctx context.Context, names []string, root FolderID) (FolderID, error) {
	current := root
	for _, name := range names {
		id, found, err := r.FindFolder(ctx, name, current)
		if err != nil {
			return "", err
		}
		if !found {
			id, err = r.CreateFolder(ctx, name, current)
			if err != nil {
				return "", err
			}
			slog.Debug("remote folder created", "name", name, "parent", current, "id", id)
		}
		current = id
	}
	return current, nil
}
