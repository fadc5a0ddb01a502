package scanner

type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// FileNode is one scanned entry. Children are only populated for directories,
// and a directory's Size is the sum of the readable sizes below it.
type FileNode struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	Size int64  `json:"size"`
	// SizeKnown is false when the size could not be read; Size is then 0.
	SizeKnown    bool        `json:"size_known"`
	Hidden       bool        `json:"hidden,omitempty"`
	Preview      string      `json:"preview,omitempty"`
	PreviewError string      `json:"preview_error,omitempty"`
	Error        string      `json:"error,omitempty"`
	Children     []*FileNode `json:"children,omitempty"`
}

func (n *FileNode) IsDir() bool {
	return n.Kind == KindDirectory
}

// Walk visits n and its descendants depth-first, parents before children.
func (n *FileNode) Walk(fn func(node *FileNode, depth int)) {
	n.walk(fn, 0)
}

func (n *FileNode) walk(fn func(node *FileNode, depth int), depth int) {
	fn(n, depth)
	for _, child := range n.Children {
		child.walk(fn, depth+1)
	}
}

// ScanResult is produced once per scan and is read-only afterwards.
// The root directory itself is not counted.
type ScanResult struct {
	FileCount      int       `json:"file_count"`
	DirectoryCount int       `json:"directory_count"`
	TotalSize      int64     `json:"total_size"`
	Root           *FileNode `json:"root"`
}

// UnknownSizeFiles lists the files whose size could not be read.
func (r *ScanResult) UnknownSizeFiles() []*FileNode {
	var out []*FileNode
	if r.Root == nil {
		return out
	}
	r.Root.Walk(func(node *FileNode, _ int) {
		if node.Kind == KindFile && !node.SizeKnown {
			out = append(out, node)
		}
	})
	return out
}

// Errors lists nodes carrying a listing error marker.
func (r *ScanResult) Errors() []*FileNode {
	var out []*FileNode
	if r.Root == nil {
		return out
	}
	r.Root.Walk(func(node *FileNode, _ int) {
		if node.Error != "" {
			out = append(out, node)
		}
	})
	return out
}
