// Package catalog is a remote.Store kept on a local or mounted disk: folder
// and file metadata live in SQLite, file bytes in a blob directory.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftbackup/internal/db"
	"github.com/openmined/syftbackup/internal/remote"
	"github.com/openmined/syftbackup/internal/utils"
)

const (
	RootID       remote.FolderID = "root"
	dbFileName                   = "catalog.db"
	blobsDirName                 = "blobs"
)

var ErrFolderNotFound = errors.New("catalog folder not found")

const schema = `
CREATE TABLE IF NOT EXISTS folders (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    parent_id TEXT NOT NULL,
    trashed INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_folders_parent_name ON folders(parent_id, name);

CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    parent_id TEXT NOT NULL,
    size INTEGER NOT NULL,
    blob TEXT NOT NULL,
    created_at TEXT NOT NULL -- RFC3339
);

CREATE INDEX IF NOT EXISTS idx_files_parent ON files(parent_id);
`

type dbFolder struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	ParentID  string `db:"parent_id"`
	Trashed   bool   `db:"trashed"`
	CreatedAt string `db:"created_at"`
}

type dbFile struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	ParentID  string `db:"parent_id"`
	Size      int64  `db:"size"`
	Blob      string `db:"blob"`
	CreatedAt string `db:"created_at"`
}

// File is a catalog entry for uploaded bytes.
type File struct {
	ID       string
	Name     string
	Size     int64
	BlobPath string
}

type Store struct {
	db       *sqlx.DB
	dir      string
	blobsDir string
	now      func() time.Time
}

// Open creates or opens the catalog rooted at dir.
func Open(dir string) (*Store, error) {
	dir, err := utils.ResolvePath(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog dir: %w", err)
	}

	blobsDir := filepath.Join(dir, blobsDirName)
	if err := utils.EnsureDir(blobsDir); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", blobsDir, err)
	}

	sqlDB, err := db.Open(
		db.WithPath(filepath.Join(dir, dbFileName)),
		db.WithMaxOpenConns(1),
		db.WithSchema(schema),
	)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	slog.Debug("catalog open", "dir", dir)
	return &Store{
		db:       sqlDB,
		dir:      dir,
		blobsDir: blobsDir,
		now:      time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Root() remote.FolderID {
	return RootID
}

func (s *Store) ListFolders(ctx context.Context, name string, parent remote.FolderID) ([]remote.Folder, error) {
	var rows []dbFolder
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, parent_id, trashed, created_at FROM folders WHERE parent_id = ? AND name = ? ORDER BY rowid",
		string(parent), name,
	)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}

	folders := make([]remote.Folder, 0, len(rows))
	for _, row := range rows {
		folders = append(folders, remote.Folder{
			ID:      remote.FolderID(row.ID),
			Name:    row.Name,
			Trashed: row.Trashed,
		})
	}
	return folders, nil
}

func (s *Store) CreateFolder(ctx context.Context, name string, parent remote.FolderID) (remote.FolderID, error) {
	if err := s.checkParent(ctx, parent); err != nil {
		return "", err
	}

	row := dbFolder{
		ID:        uuid.NewString(),
		Name:      name,
		ParentID:  string(parent),
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	_, err := s.db.NamedExecContext(ctx,
		"INSERT INTO folders (id, name, parent_id, trashed, created_at) VALUES (:id, :name, :parent_id, :trashed, :created_at)",
		row,
	)
	if err != nil {
		return "", fmt.Errorf("insert folder %q: %w", name, err)
	}

	return remote.FolderID(row.ID), nil
}

func (s *Store) UploadFile(ctx context.Context, localPath string, parent remote.FolderID) (*remote.UploadedFile, error) {
	if err := s.checkParent(ctx, parent); err != nil {
		return nil, err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	id := uuid.NewString()
	blob := filepath.Join(s.blobsDir, id[:2], id)
	if err := utils.CopyFile(localPath, blob); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	row := dbFile{
		ID:        id,
		Name:      filepath.Base(localPath),
		ParentID:  string(parent),
		Size:      info.Size(),
		Blob:      blob,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	}
	_, err = s.db.NamedExecContext(ctx,
		"INSERT INTO files (id, name, parent_id, size, blob, created_at) VALUES (:id, :name, :parent_id, :size, :blob, :created_at)",
		row,
	)
	if err != nil {
		_ = os.Remove(blob)
		return nil, fmt.Errorf("insert file %q: %w", row.Name, err)
	}

	return &remote.UploadedFile{
		ID:   id,
		Name: row.Name,
		Size: row.Size,
		Link: "file://" + filepath.ToSlash(blob),
	}, nil
}

// Trash marks a folder as deleted. Trashed folders are still listed but
// flagged, the way hosted drives report them.
func (s *Store) Trash(ctx context.Context, id remote.FolderID) error {
	res, err := s.db.ExecContext(ctx, "UPDATE folders SET trashed = 1 WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("trash folder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, id)
	}
	return nil
}

// Children lists every folder directly under parent, trashed included.
func (s *Store) Children(ctx context.Context, parent remote.FolderID) ([]remote.Folder, error) {
	var rows []dbFolder
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, parent_id, trashed, created_at FROM folders WHERE parent_id = ? ORDER BY rowid",
		string(parent),
	)
	if err != nil {
		return nil, fmt.Errorf("query folders: %w", err)
	}

	out := make([]remote.Folder, 0, len(rows))
	for _, row := range rows {
		out = append(out, remote.Folder{ID: remote.FolderID(row.ID), Name: row.Name, Trashed: row.Trashed})
	}
	return out, nil
}

func (s *Store) Files(ctx context.Context, parent remote.FolderID) ([]File, error) {
	var rows []dbFile
	err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, parent_id, size, blob, created_at FROM files WHERE parent_id = ? ORDER BY name",
		string(parent),
	)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}

	out := make([]File, 0, len(rows))
	for _, row := range rows {
		out = append(out, File{ID: row.ID, Name: row.Name, Size: row.Size, BlobPath: row.Blob})
	}
	return out, nil
}

func (s *Store) checkParent(ctx context.Context, parent remote.FolderID) error {
	if parent == RootID {
		return nil
	}

	var trashed bool
	err := s.db.GetContext(ctx, &trashed, "SELECT trashed FROM folders WHERE id = ?", string(parent))
	if errors.Is(err, sql.ErrNoRows) || (err == nil && trashed) {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, parent)
	}
	if err != nil {
		return fmt.Errorf("query folder: %w", err)
	}
	return nil
}

var _ remote.Store = (*Store)(nil)
