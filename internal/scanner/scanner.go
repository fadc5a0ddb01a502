// Package scanner walks a project tree and builds the structural report
// used by every backup run.
package scanner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftbackup/internal/utils"
)

const DefaultPreviewChars = 200

var DefaultPreviewPatterns = []string{
	"**/*.{xml,iml,properties,gradle,kt,kts,java}",
	"**/*.{go,md,txt,json,yaml,yml,toml}",
}

var (
	ErrNotDirectory = errors.New("scan root is not a directory")
)

// Filter decides which entries are skipped entirely.
type Filter interface {
	IsExcluded(path string) bool
}

type Options struct {
	// PreviewPatterns are doublestar globs matched against the lower-cased,
	// slash-separated path relative to the scan root.
	PreviewPatterns []string
	PreviewChars    int
}

type Scanner struct {
	filter          Filter
	previewPatterns []string
	previewChars    int
}

func New(filter Filter, opts Options) (*Scanner, error) {
	patterns := opts.PreviewPatterns
	if patterns == nil {
		patterns = DefaultPreviewPatterns
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid preview pattern %q", p)
		}
	}

	chars := opts.PreviewChars
	if chars <= 0 {
		chars = DefaultPreviewChars
	}

	return &Scanner{
		filter:          filter,
		previewPatterns: patterns,
		previewChars:    chars,
	}, nil
}

// scanState is the per-call accumulator threaded through the walk.
type scanState struct {
	root    string
	result  *ScanResult
	visited mapset.Set[string]
}

// Scan walks root depth-first. Only an unusable root is an error: unreadable
// directories and files are recorded on their nodes and the walk continues.
func (s *Scanner) Scan(root string) (*ScanResult, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	state := &scanState{
		root:    root,
		result:  &ScanResult{},
		visited: mapset.NewThreadUnsafeSet[string](),
	}

	rootNode := &FileNode{
		Name:      filepath.Base(root),
		Path:      root,
		Kind:      KindDirectory,
		SizeKnown: true,
	}
	state.visited.Add(utils.RealPath(root))
	s.scanDir(state, rootNode)
	state.result.Root = rootNode

	slog.Debug("scan done",
		"root", root,
		"files", state.result.FileCount,
		"dirs", state.result.DirectoryCount,
		"size", state.result.TotalSize,
	)

	return state.result, nil
}

func (s *Scanner) scanDir(state *scanState, node *FileNode) {
	entries, err := os.ReadDir(node.Path)
	if err != nil {
		// ReadDir may still return the entries read before the failure
		node.Error = err.Error()
		slog.Warn("scan list dir", "path", node.Path, "error", err)
	}

	for _, entry := range entries {
		path := filepath.Join(node.Path, entry.Name())
		if s.filter != nil && s.filter.IsExcluded(path) {
			continue
		}

		if isDirEntry(path, entry) {
			child := s.scanSubdir(state, path, entry.Name())
			node.Size += child.Size
			node.Children = append(node.Children, child)
			continue
		}

		child := s.scanFile(state, path, entry.Name())
		node.Size += child.Size
		node.Children = append(node.Children, child)
	}
}

func (s *Scanner) scanSubdir(state *scanState, path, name string) *FileNode {
	state.result.DirectoryCount++

	node := &FileNode{
		Name:      name,
		Path:      path,
		Kind:      KindDirectory,
		SizeKnown: true,
		Hidden:    isHidden(name),
	}

	real := utils.RealPath(path)
	if !state.visited.Add(real) {
		node.Error = fmt.Sprintf("already visited %s", real)
		slog.Warn("scan skipped symlink cycle", "path", path, "target", real)
		return node
	}

	s.scanDir(state, node)
	return node
}

func (s *Scanner) scanFile(state *scanState, path, name string) *FileNode {
	state.result.FileCount++

	node := &FileNode{
		Name:   name,
		Path:   path,
		Kind:   KindFile,
		Hidden: isHidden(name),
	}

	info, err := os.Stat(path)
	if err != nil {
		slog.Warn("scan file size unknown", "path", path, "error", err)
	} else {
		node.Size = info.Size()
		node.SizeKnown = true
		state.result.TotalSize += node.Size
	}

	if s.wantsPreview(state.root, path) {
		preview, err := readPreview(path, s.previewChars)
		if err != nil {
			node.PreviewError = err.Error()
		} else {
			node.Preview = preview
		}
	}

	return node
}

func (s *Scanner) wantsPreview(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = strings.ToLower(filepath.ToSlash(rel))
	for _, pattern := range s.previewPatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// readPreview returns at most n characters from the start of the file.
func readPreview(path string, n int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var sb strings.Builder
	for range n {
		r, _, err := reader.ReadRune()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		sb.WriteRune(r)
	}
	return sb.String(), nil
}

// isDirEntry follows symlinks so linked directories are walked like real ones.
func isDirEntry(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
