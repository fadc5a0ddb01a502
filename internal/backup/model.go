package backup

import (
	"path/filepath"
)

// ProjectModel supplies the logical structure of a project: the roots that
// hold its sources and resources.
type ProjectModel interface {
	ContentRoots(projectRoot string) ([]string, error)
}

// StaticModel reports a fixed list of content roots. Relative entries are
// resolved against the project root; an empty list means the root itself.
type StaticModel struct {
	Roots []string
}

func (m StaticModel) ContentRoots(projectRoot string) ([]string, error) {
	if len(m.Roots) == 0 {
		return []string{projectRoot}, nil
	}

	out := make([]string, 0, len(m.Roots))
	for _, r := range m.Roots {
		if !filepath.IsAbs(r) {
			r = filepath.Join(projectRoot, r)
		}
		out = append(out, filepath.Clean(r))
	}
	return out, nil
}
