// Package batch contains the batch conversion core: the per-page processor
// and the run-level orchestrator state machine.
package batch

import (
	"sync/atomic"

	"github.com/entrhq/docpack/pkg/extract"
)

// ConvertedPage is one successfully converted page. Appended to the run's
// outputs in page order, never mutated.
type ConvertedPage struct {
	// FileName is unique within the run and sanitized for archives.
	FileName string

	// Title is the resolved page title.
	Title string

	// Content is the converted Markdown.
	Content string
}

// Run is the state of one batch run. It exists only while the run is
// active; every terminal transition discards it. Mutated only by the
// orchestrator's run goroutine, except for the cancellation flag.
type Run struct {
	// TargetID identifies the one tab driving this run.
	TargetID string

	// OriginalAddress is where the target was before the run started.
	OriginalAddress string

	// FolderName is the archive folder and file base name.
	FolderName string

	// Pages is the ordered page list. Immutable for the run's duration.
	Pages []extract.PageDescriptor

	// Processed and Failed are page counters; Total is len(Pages).
	Processed int
	Failed    int
	Total     int

	// Outputs holds converted pages in completion order.
	Outputs []ConvertedPage

	usedFileNames map[string]bool
	cancel        atomic.Bool
}

// NewRun creates the state for a fresh run.
func NewRun(targetID, originalAddress, folderName string, pages []extract.PageDescriptor) *Run {
	return &Run{
		TargetID:        targetID,
		OriginalAddress: originalAddress,
		FolderName:      folderName,
		Pages:           pages,
		Total:           len(pages),
		usedFileNames:   make(map[string]bool),
	}
}

// RequestCancel arms cooperative cancellation. The in-flight page finishes;
// no further page begins.
func (r *Run) RequestCancel() {
	r.cancel.Store(true)
}

// CancelRequested reports whether cancellation has been armed.
func (r *Run) CancelRequested() bool {
	return r.cancel.Load()
}

// ClaimFileName de-duplicates a candidate file name against the names
// already used in this run and records the claimed name.
func (r *Run) ClaimFileName(candidate string) string {
	name := candidate
	for i := 2; r.usedFileNames[name]; i++ {
		name = numberedFileName(candidate, i)
	}
	r.usedFileNames[name] = true
	return name
}

// Record appends a converted page and advances the processed counter.
func (r *Run) Record(page ConvertedPage) {
	r.Outputs = append(r.Outputs, page)
	r.Processed++
}
