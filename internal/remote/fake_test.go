package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type fakeFolder struct {
	Folder
	parent FolderID
}

type fakeFile struct {
	name   string
	parent FolderID
	size   int64
}

// fakeStore keeps folders and files in memory, in creation order.
type fakeStore struct {
	mu          sync.Mutex
	folders     []fakeFolder
	files       []fakeFile
	nextID      int
	createCalls int
	listCalls   int
	uploadErr   map[string]error
	createErr   map[string]error
	listErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		uploadErr: map[string]error{},
		createErr: map[string]error{},
	}
}

func (s *fakeStore) Root() FolderID { return "root" }

func (s *fakeStore) ListFolders(_ context.Context, name string, parent FolderID) ([]Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []Folder
	for _, f := range s.folders {
		if f.parent == parent && f.Name == name {
			out = append(out, f.Folder)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateFolder(_ context.Context, name string, parent FolderID) (FolderID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if err := s.createErr[name]; err != nil {
		return "", err
	}
	return s.addFolderLocked(name, parent, false), nil
}

func (s *fakeStore) addFolder(name string, parent FolderID, trashed bool) FolderID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addFolderLocked(name, parent, trashed)
}

func (s *fakeStore) addFolderLocked(name string, parent FolderID, trashed bool) FolderID {
	s.nextID++
	id := FolderID(fmt.Sprintf("f%d", s.nextID))
	s.folders = append(s.folders, fakeFolder{Folder: Folder{ID: id, Name: name, Trashed: trashed}, parent: parent})
	return id
}

func (s *fakeStore) UploadFile(_ context.Context, localPath string, parent FolderID) (*UploadedFile, error) {
	name := filepath.Base(localPath)
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.uploadErr[name]; err != nil {
		return nil, err
	}
	s.files = append(s.files, fakeFile{name: name, parent: parent, size: info.Size()})
	return &UploadedFile{ID: "file-" + name, Name: name, Size: info.Size()}, nil
}

func (s *fakeStore) childFolders(parent FolderID) []Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Folder
	for _, f := range s.folders {
		if f.parent == parent {
			out = append(out, f.Folder)
		}
	}
	return out
}

func (s *fakeStore) childFiles(parent FolderID) map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	for _, f := range s.files {
		if f.parent == parent {
			out[f.name] = f.size
		}
	}
	return out
}
