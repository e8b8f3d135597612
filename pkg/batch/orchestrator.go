package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/docpack/pkg/archive"
	"github.com/entrhq/docpack/pkg/extract"
	"github.com/entrhq/docpack/pkg/logging"
	"github.com/entrhq/docpack/pkg/types"
)

var (
	// ErrRunInProgress indicates a batch is already running. Start never
	// disturbs the active run.
	ErrRunInProgress = errors.New("a batch run is already in progress")

	// ErrOutOfScope indicates the current address is not a supported
	// project page.
	ErrOutOfScope = errors.New("current address is outside the project scope")

	// ErrNoPages indicates discovery found nothing to convert.
	ErrNoPages = errors.New("no project pages discovered")

	// ErrNothingConverted indicates every page failed; no archive is
	// produced.
	ErrNothingConverted = errors.New("no pages converted successfully")

	// ErrTargetClosed indicates the driving target went away mid-run.
	ErrTargetClosed = errors.New("target closed during batch run")
)

// AddressReader reports the target's current address. Satisfied by
// target.Target.
type AddressReader interface {
	Address() (string, error)
}

// Archiver bundles converted pages and persists the bundle. Satisfied by
// archive.Assembler.
type Archiver interface {
	Assemble(folderName string, files []archive.File) ([]byte, error)
	Save(data []byte, filename string) (string, error)
}

// PageProcessor converts one discovered page. Satisfied by Processor.
type PageProcessor interface {
	Process(ctx context.Context, run *Run, desc extract.PageDescriptor) error
}

// Deps collects the orchestrator's collaborators.
type Deps struct {
	Processor   PageProcessor
	Navigator   Navigator
	Discoverer  extract.Discoverer
	Assembler   Archiver
	Broadcaster *types.Broadcaster
	Log         *logging.Logger

	// TargetID is the driving target the run navigates.
	TargetID string

	// TargetClosed is signalled when the driving target goes away. The
	// run errors out at the next page boundary.
	TargetClosed <-chan struct{}

	// Address reads the target's current location at start time.
	Address AddressReader

	// InScope reports whether an address belongs to the project.
	InScope func(address string) bool
}

// StartResult describes a successfully started run.
type StartResult struct {
	// Total is the number of pages the run will attempt.
	Total int

	// FolderName is the derived archive folder name.
	FolderName string
}

// Orchestrator runs batch conversions one at a time. The driving target
// is a single stateful browser tab, so at most one run exists; a second
// Start while one is active is rejected without touching the active run.
type Orchestrator struct {
	deps Deps

	mu  sync.Mutex
	run *Run
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// Start discovers the project's pages and launches the run loop. It
// returns once the run is admitted; progress flows through the
// broadcaster. Start fails without side effects when a run is already
// active, the current address is out of scope, or discovery finds
// nothing.
func (o *Orchestrator) Start(ctx context.Context) (StartResult, error) {
	o.mu.Lock()
	if o.run != nil {
		o.mu.Unlock()
		return StartResult{}, ErrRunInProgress
	}
	o.mu.Unlock()

	address, err := o.deps.Address.Address()
	if err != nil {
		return StartResult{}, fmt.Errorf("failed to read current address: %w", err)
	}
	if o.deps.InScope != nil && !o.deps.InScope(address) {
		return StartResult{}, fmt.Errorf("%w: %s", ErrOutOfScope, address)
	}

	pages, err := o.deps.Discoverer.DiscoverPages(ctx)
	if err != nil {
		return StartResult{}, fmt.Errorf("page discovery failed: %w", err)
	}
	if len(pages) == 0 {
		return StartResult{}, ErrNoPages
	}

	run := NewRun(o.deps.TargetID, address, DeriveFolderName(address), pages)

	o.mu.Lock()
	if o.run != nil {
		o.mu.Unlock()
		return StartResult{}, ErrRunInProgress
	}
	o.run = run
	o.mu.Unlock()

	o.infof("batch started: %d pages from %s", run.Total, address)
	o.publish(types.NewBatchStartedEvent(run.Total, run.FolderName))

	go o.runLoop(ctx, run)

	return StartResult{Total: run.Total, FolderName: run.FolderName}, nil
}

// Cancel requests cooperative cancellation of the active run. The run
// stops at the next page boundary; the in-flight page is allowed to
// finish. Returns false when no run is active.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	run := o.run
	o.mu.Unlock()

	if run == nil {
		return false
	}
	run.RequestCancel()
	o.infof("batch cancellation requested")
	return true
}

// Status returns the most recent status event, or an idle event when no
// run has happened yet.
func (o *Orchestrator) Status() *types.StatusEvent {
	if event := o.deps.Broadcaster.Latest(); event != nil {
		return event
	}
	return types.NewIdleEvent()
}

// runLoop processes the run's pages sequentially, then assembles the
// archive. Whatever happens, the orchestrator resets to idle so the next
// Start is never blocked by a stuck run.
func (o *Orchestrator) runLoop(ctx context.Context, run *Run) {
	var terminal *types.StatusEvent
	defer func() {
		o.mu.Lock()
		o.run = nil
		o.mu.Unlock()
		if terminal != nil {
			o.publish(terminal)
		}
	}()

	for i, desc := range run.Pages {
		if o.targetGone(ctx) {
			o.errorf("target closed after %d/%d pages", run.Processed, run.Total)
			terminal = types.NewBatchErroredEvent(run.Processed, run.Failed, run.Total, ErrTargetClosed)
			return
		}
		if run.CancelRequested() {
			o.infof("batch cancelled after %d/%d pages", run.Processed, run.Total)
			terminal = types.NewBatchCancelledEvent(run.Processed, run.Failed, run.Total)
			o.returnHome(ctx, run)
			return
		}

		o.publish(types.NewBatchProgressEvent(run.Processed, run.Failed, run.Total, desc.Title))

		if err := o.deps.Processor.Process(ctx, run, desc); err != nil {
			run.Failed++
			o.warnf("page %d/%d %q failed: %v", i+1, run.Total, desc.Title, err)
			o.publish(types.NewPageFailedEvent(run.Processed, run.Failed, run.Total, err))
			continue
		}
		fileName := desc.Title
		if n := len(run.Outputs); n > 0 {
			fileName = run.Outputs[n-1].FileName
		}
		o.publish(types.NewPageProcessedEvent(run.Processed, run.Failed, run.Total, fileName))
	}

	if run.Processed == 0 {
		o.errorf("all %d pages failed; no archive produced", run.Total)
		terminal = types.NewBatchErroredEvent(run.Processed, run.Failed, run.Total, ErrNothingConverted)
		o.returnHome(ctx, run)
		return
	}

	saved, err := o.assemble(run)
	if err != nil {
		o.errorf("archive assembly failed: %v", err)
		terminal = types.NewBatchErroredEvent(run.Processed, run.Failed, run.Total, err)
		o.returnHome(ctx, run)
		return
	}

	o.infof("batch completed: %d converted, %d failed, archive %s", run.Processed, run.Failed, saved)
	terminal = types.NewBatchCompletedEvent(run.Processed, run.Failed, run.Total, saved)
	o.returnHome(ctx, run)
}

func (o *Orchestrator) assemble(run *Run) (string, error) {
	files := make([]archive.File, 0, len(run.Outputs))
	for _, page := range run.Outputs {
		files = append(files, archive.File{
			Name:    page.FileName,
			Title:   page.Title,
			Content: page.Content,
		})
	}

	data, err := o.deps.Assembler.Assemble(run.FolderName, files)
	if err != nil {
		return "", fmt.Errorf("failed to assemble archive: %w", err)
	}
	return o.deps.Assembler.Save(data, run.FolderName+".zip")
}

// returnHome navigates back to the page the run started from. Best
// effort: the archive outcome is already decided.
func (o *Orchestrator) returnHome(ctx context.Context, run *Run) {
	if o.deps.Navigator == nil || o.targetGone(ctx) {
		return
	}
	if err := o.deps.Navigator.Navigate(ctx, run.OriginalAddress); err != nil {
		o.warnf("failed to return to %s: %v", run.OriginalAddress, err)
	}
}

func (o *Orchestrator) targetGone(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	if o.deps.TargetClosed == nil {
		return false
	}
	select {
	case <-o.deps.TargetClosed:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) publish(event *types.StatusEvent) {
	if o.deps.Broadcaster != nil {
		o.deps.Broadcaster.Publish(event)
	}
}

func (o *Orchestrator) infof(format string, v ...interface{}) {
	if o.deps.Log != nil {
		o.deps.Log.Infof(format, v...)
	}
}

func (o *Orchestrator) warnf(format string, v ...interface{}) {
	if o.deps.Log != nil {
		o.deps.Log.Warnf(format, v...)
	}
}

func (o *Orchestrator) errorf(format string, v ...interface{}) {
	if o.deps.Log != nil {
		o.deps.Log.Errorf(format, v...)
	}
}
