package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath_CreatesMissingLevelsOnce(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	id, err := NewResolver(store).ResolvePath(ctx, []string{"Backups", "ProjectX"}, store.Root())
	require.NoError(t, err)
	assert.Equal(t, 2, store.createCalls)

	backups := store.childFolders(store.Root())
	require.Len(t, backups, 1)
	assert.Equal(t, "Backups", backups[0].Name)
	projects := store.childFolders(backups[0].ID)
	require.Len(t, projects, 1)
	assert.Equal(t, "ProjectX", projects[0].Name)
	assert.Equal(t, projects[0].ID, id)

	// a fresh resolver has an empty cache and must find both levels remotely
	again, err := NewResolver(store).ResolvePath(ctx, []string{"Backups", "ProjectX"}, store.Root())
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 2, store.createCalls)
	assert.Len(t, store.childFolders(store.Root()), 1)
}

func TestResolvePath_CachesWithinResolver(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	first, err := resolver.ResolvePath(ctx, []string{"A", "B"}, store.Root())
	require.NoError(t, err)
	lists := store.listCalls

	second, err := resolver.ResolvePath(ctx, []string{"A", "B"}, store.Root())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, lists, store.listCalls)
}

func TestResolvePath_EmptyNamesReturnsRoot(t *testing.T) {
	store := newFakeStore()
	id, err := NewResolver(store).ResolvePath(context.Background(), nil, store.Root())
	require.NoError(t, err)
	assert.Equal(t, store.Root(), id)
	assert.Zero(t, store.createCalls)
}

func TestFindFolder_FirstNonTrashedExactMatch(t *testing.T) {
	store := newFakeStore()
	store.addFolder("Backups", store.Root(), true)
	first := store.addFolder("Backups", store.Root(), false)
	store.addFolder("Backups", store.Root(), false)
	store.addFolder("backups", store.Root(), false)

	id, found, err := NewResolver(store).FindFolder(context.Background(), "Backups", store.Root())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first, id)
}

func TestFindFolder_CaseSensitive(t *testing.T) {
	store := newFakeStore()
	store.addFolder("backups", store.Root(), false)

	_, found, err := NewResolver(store).FindFolder(context.Background(), "Backups", store.Root())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindFolder_OnlyTrashedIsAbsent(t *testing.T) {
	store := newFakeStore()
	store.addFolder("Backups", store.Root(), true)

	resolver := NewResolver(store)
	_, found, err := resolver.FindFolder(context.Background(), "Backups", store.Root())
	require.NoError(t, err)
	assert.False(t, found)

	id, err := resolver.ResolvePath(context.Background(), []string{"Backups"}, store.Root())
	require.NoError(t, err)
	assert.Equal(t, 1, store.createCalls)
	assert.NotEqual(t, FolderID("f1"), id)
}

func TestCreateFolder_DoesNotDeduplicate(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	a, err := resolver.CreateFolder(ctx, "dup", store.Root())
	require.NoError(t, err)
	b, err := resolver.CreateFolder(ctx, "dup", store.Root())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, store.childFolders(store.Root()), 2)
}

func TestCreateFolder_DuplicateKeepsFirstCached(t *testing.T) {
	store := newFakeStore()
	first := store.addFolder("dup", store.Root(), false)
	resolver := NewResolver(store)
	ctx := context.Background()

	found, ok, err := resolver.FindFolder(ctx, "dup", store.Root())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, found)

	second, err := resolver.CreateFolder(ctx, "dup", store.Root())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	again, ok, err := resolver.FindFolder(ctx, "dup", store.Root())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, again)

	fresh, _, err := NewResolver(store).FindFolder(ctx, "dup", store.Root())
	require.NoError(t, err)
	assert.Equal(t, first, fresh)
}

func TestResolver_Errors(t *testing.T) {
	store := newFakeStore()
	resolver := NewResolver(store)
	ctx := context.Background()

	_, err := resolver.CreateFolder(ctx, "", store.Root())
	assert.ErrorIs(t, err, ErrEmptyName)

	store.listErr = ErrUnauthorized
	_, err = resolver.ResolvePath(ctx, []string{"A"}, store.Root())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, IsFatal(err))

	store.listErr = nil
	store.createErr["A"] = errors.New("quota exceeded")
	_, err = resolver.ResolvePath(ctx, []string{"A"}, store.Root())
	assert.ErrorContains(t, err, "quota exceeded")
	assert.False(t, IsFatal(err))
}
