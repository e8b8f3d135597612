// Package archive bundles converted pages into a single downloadable zip
// with a generated index.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File is one page destined for the archive.
type File struct {
	// Name is the unique, sanitized file name (with extension).
	Name string

	// Title is the page title, used for the index listing.
	Title string

	// Content is the converted Markdown.
	Content string
}

// Assembler produces and saves page archives.
type Assembler struct {
	// OutputDir is where saved archives land. Empty means the current
	// working directory.
	OutputDir string
}

// Assemble produces a zip containing one file per page under folderName,
// plus a generated index.md listing every page with relative links, in
// page order.
func (a *Assembler) Assemble(folderName string, files []File) ([]byte, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to archive")
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	index, err := w.Create(folderName + "/index.md")
	if err != nil {
		return nil, fmt.Errorf("failed to create index entry: %w", err)
	}
	if _, err := index.Write([]byte(renderIndex(folderName, files))); err != nil {
		return nil, fmt.Errorf("failed to write index: %w", err)
	}

	for _, f := range files {
		entry, err := w.Create(folderName + "/" + f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create entry %q: %w", f.Name, err)
		}
		if _, err := entry.Write([]byte(f.Content)); err != nil {
			return nil, fmt.Errorf("failed to write entry %q: %w", f.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes archive bytes to the output directory and returns the full path.
func (a *Assembler) Save(data []byte, filename string) (string, error) {
	dir := a.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to save archive: %w", err)
	}
	return path, nil
}

// renderIndex generates the index page listing all files in order.
func renderIndex(folderName string, files []File) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", folderName)
	for _, f := range files {
		title := f.Title
		if title == "" {
			title = strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
		}
		fmt.Fprintf(&b, "- [%s](%s)\n", title, f.Name)
	}
	return b.String()
}
