// Package pathfilter decides which paths are kept out of scans, mirrors and
// change monitoring. A Filter is immutable once built, so the same path always
// yields the same answer.
package pathfilter

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/openmined/syftbackup/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const (
	DefaultMirrorSuffix = "_mirror"
	ReportPrefix        = "project_scan_"
	LockFileName        = ".syftbackup.lock"
	IgnoreFileName      = ".backupignore"
)

var defaultIgnoreLines = []string{
	// build output
	"build",
	"out",
	"dist",
	"target",
	"bin/Debug",
	"bin/Release",
	// IDE/Editor metadata
	".idea",
	".vscode",
	".gradle",
	"*.swp",
	// VCS + dependencies
	".git",
	"node_modules",
	"__pycache__",
	// temp/log/lock files
	"*.tmp",
	"*.log",
	"*.lock",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
}

type Options struct {
	// Root is the project directory; absolute paths under it are matched relative to it.
	Root string
	// MirrorSuffix marks the mirror folder. Defaults to DefaultMirrorSuffix.
	MirrorSuffix string
	// Patterns are extra gitignore-style rules appended after the defaults.
	Patterns []string
	// SkipDefaults drops the built-in ignore list. Self-artifact rules always apply.
	SkipDefaults bool
}

type Filter struct {
	root         string
	mirrorSuffix string
	rules        []string
	ignore       *gitignore.GitIgnore
}

// New compiles the ignore rules, including the project's .backupignore file when present.
func New(opts Options) (*Filter, error) {
	root := opts.Root
	if root != "" {
		resolved, err := utils.ResolvePath(root)
		if err != nil {
			return nil, fmt.Errorf("resolve filter root: %w", err)
		}
		root = resolved
	}

	suffix := opts.MirrorSuffix
	if suffix == "" {
		suffix = DefaultMirrorSuffix
	}

	var rules []string
	if !opts.SkipDefaults {
		rules = append(rules, defaultIgnoreLines...)
	}
	rules = append(rules, opts.Patterns...)

	if root != "" {
		fileRules, err := readIgnoreFile(filepath.Join(root, IgnoreFileName))
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}

	return &Filter{
		root:         root,
		mirrorSuffix: suffix,
		rules:        rules,
		ignore:       gitignore.CompileIgnoreLines(rules...),
	}, nil
}

func (f *Filter) Root() string {
	return f.root
}

func (f *Filter) MirrorSuffix() string {
	return f.mirrorSuffix
}

// Rules returns the compiled ignore lines, in order.
func (f *Filter) Rules() []string {
	return append([]string(nil), f.rules...)
}

// IsExcluded reports whether path must be skipped. The project root itself is never excluded.
func (f *Filter) IsExcluded(path string) bool {
	rel, ok := f.relative(path)
	if !ok {
		return false
	}

	for _, part := range strings.Split(rel, "/") {
		if f.isArtifact(part) {
			return true
		}
	}

	return f.ignore.MatchesPath(rel)
}

// isArtifact matches the files and folders the backup itself produces.
func (f *Filter) isArtifact(name string) bool {
	if name == "" {
		return false
	}
	return strings.HasSuffix(name, f.mirrorSuffix) ||
		strings.HasPrefix(name, ReportPrefix) ||
		name == LockFileName
}

func (f *Filter) relative(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	rel := filepath.Clean(path)
	if f.root != "" && filepath.IsAbs(rel) && utils.IsSubPath(f.root, rel) {
		r, err := filepath.Rel(f.root, rel)
		if err != nil {
			return "", false
		}
		rel = r
	}

	if rel == "." {
		return "", false
	}

	return strings.TrimPrefix(filepath.ToSlash(rel), "/"), true
}

func readIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", IgnoreFileName, err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", IgnoreFileName, err)
	}

	slog.Debug("loaded ignore file", "path", path, "rules", len(lines))
	return lines, nil
}
