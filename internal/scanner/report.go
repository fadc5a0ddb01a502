package scanner

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/syftbackup/internal/pathfilter"
)

const (
	reportTimestampLayout = "20060102_150405"
	headerTimeLayout      = "02/01/2006 15:04:05"
	indentUnit            = "  "
)

// ContentRoot is one entry of the host project's logical structure.
type ContentRoot struct {
	Path string
	Tree *FileNode
}

// Report is everything needed to render a scan report.
type Report struct {
	Title        string
	GeneratedAt  time.Time
	BasePath     string
	Result       *ScanResult
	ContentRoots []ContentRoot
}

// FormatSize renders a byte count as B/KB/MB/GB with two decimals above 1024.
func FormatSize(size int64) string {
	const unit = 1024
	switch {
	case size < 0:
		return "size unknown"
	case size < unit:
		return fmt.Sprintf("%d B", size)
	case size < unit*unit:
		return fmt.Sprintf("%.2f KB", float64(size)/unit)
	case size < unit*unit*unit:
		return fmt.Sprintf("%.2f MB", float64(size)/(unit*unit))
	default:
		return fmt.Sprintf("%.2f GB", float64(size)/(unit*unit*unit))
	}
}

// RenderText renders the indentation-nested plain text report.
func RenderText(r *Report) string {
	var sb strings.Builder

	title := r.Title
	if title == "" {
		title = "PROJECT ANALYSIS"
	}
	fmt.Fprintf(&sb, "=== %s ===\n", strings.ToUpper(title))
	fmt.Fprintf(&sb, "Generated: %s\n", r.GeneratedAt.Format(headerTimeLayout))
	fmt.Fprintf(&sb, "Base path: %s\n\n", r.BasePath)

	sb.WriteString("=== PHYSICAL STRUCTURE ===\n")
	if r.Result != nil && r.Result.Root != nil {
		root := r.Result.Root
		if root.Error != "" {
			fmt.Fprintf(&sb, "[ERROR] cannot scan %s: %s\n", root.Path, root.Error)
		}
		for _, child := range root.Children {
			writeNode(&sb, child, "", true)
		}
	}

	sb.WriteString("\n=== LOGICAL STRUCTURE ===\n")
	sb.WriteString("Content roots:\n")
	for _, cr := range r.ContentRoots {
		fmt.Fprintf(&sb, "%s[ROOT] %s\n", indentUnit, cr.Path)
		if cr.Tree == nil {
			continue
		}
		if cr.Tree.Error != "" {
			fmt.Fprintf(&sb, "%s[ERROR] %s\n", indentUnit+indentUnit, cr.Tree.Error)
		}
		for _, child := range cr.Tree.Children {
			writeNode(&sb, child, indentUnit+indentUnit, false)
		}
	}

	sb.WriteString("\n=== STATISTICS ===\n")
	if r.Result != nil {
		fmt.Fprintf(&sb, "Total files: %d\n", r.Result.FileCount)
		fmt.Fprintf(&sb, "Total directories: %d\n", r.Result.DirectoryCount)
		fmt.Fprintf(&sb, "Total size: %s\n", FormatSize(r.Result.TotalSize))
		if unknown := len(r.Result.UnknownSizeFiles()); unknown > 0 {
			fmt.Fprintf(&sb, "Files with unknown size: %d\n", unknown)
		}
	}

	return sb.String()
}

func writeNode(sb *strings.Builder, node *FileNode, indent string, detailed bool) {
	if node.IsDir() {
		fmt.Fprintf(sb, "%s[DIR] %s/", indent, node.Name)
		if node.Hidden && detailed {
			sb.WriteString(" [hidden]")
		}
		sb.WriteString("\n")
		if node.Error != "" {
			fmt.Fprintf(sb, "%s%s[ERROR] cannot scan: %s\n", indent, indentUnit, node.Error)
		}
		for _, child := range node.Children {
			writeNode(sb, child, indent+indentUnit, detailed)
		}
		return
	}

	fmt.Fprintf(sb, "%s[FILE] %s", indent, node.Name)
	if !detailed {
		sb.WriteString("\n")
		return
	}

	if node.SizeKnown {
		fmt.Fprintf(sb, " (%s)", FormatSize(node.Size))
	} else {
		fmt.Fprintf(sb, " (%s)", FormatSize(-1))
	}
	if node.Hidden {
		sb.WriteString(" [hidden]")
	}
	sb.WriteString("\n")

	contentIndent := indent + indentUnit + indentUnit
	switch {
	case node.PreviewError != "":
		fmt.Fprintf(sb, "%s└─ could not read content: %s\n", contentIndent, node.PreviewError)
	case node.Preview != "":
		fmt.Fprintf(sb, "%s└─ first characters:\n", contentIndent)
		previewIndent := contentIndent + indentUnit
		body := strings.ReplaceAll(node.Preview, "\n", "\n"+previewIndent)
		fmt.Fprintf(sb, "%s%s...\n", previewIndent, body)
	}
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: monospace; padding: 20px; background-color: #f5f5f5; }
        .container { background-color: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        pre { background-color: #f8f9fa; padding: 15px; border-radius: 5px; overflow-x: auto; }
    </style>
</head>
<body>
    <div class="container">
        <pre>{{.Body}}</pre>
    </div>
</body>
</html>
`))

// RenderHTML wraps the escaped text report in a fixed page.
func RenderHTML(title, text string) (string, error) {
	var buf bytes.Buffer
	err := htmlReport.Execute(&buf, struct {
		Title string
		Body  string
	}{Title: title, Body: text})
	if err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}
	return buf.String(), nil
}

// ReportBaseName returns the timestamped report name without extension.
func ReportBaseName(now time.Time) string {
	return pathfilter.ReportPrefix + now.Format(reportTimestampLayout)
}

// WrittenReport holds the paths of the persisted report files.
type WrittenReport struct {
	TextPath string
	HTMLPath string
	JSONPath string
}

// WriteReports persists the text and HTML reports into dir. The structured
// JSON report is written only when withJSON is set.
func WriteReports(dir string, r *Report, withJSON bool) (*WrittenReport, error) {
	text := RenderText(r)
	page, err := RenderHTML("Project Analysis", text)
	if err != nil {
		return nil, err
	}

	base := filepath.Join(dir, ReportBaseName(r.GeneratedAt))
	out := &WrittenReport{}

	// paths are set only once the file is on disk
	if err := os.WriteFile(base+".txt", []byte(text), 0o644); err != nil {
		return nil, fmt.Errorf("write text report: %w", err)
	}
	out.TextPath = base + ".txt"

	if err := os.WriteFile(base+".html", []byte(page), 0o644); err != nil {
		return out, fmt.Errorf("write html report: %w", err)
	}
	out.HTMLPath = base + ".html"

	if withJSON && r.Result != nil {
		data, err := json.MarshalIndent(r.Result, "", "  ")
		if err != nil {
			return out, fmt.Errorf("marshal json report: %w", err)
		}
		if err := os.WriteFile(base+".json", data, 0o644); err != nil {
			return out, fmt.Errorf("write json report: %w", err)
		}
		out.JSONPath = base + ".json"
	}

	return out, nil
}
