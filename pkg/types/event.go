package types

// StatusEventType defines the type of status event emitted during a batch run.
type StatusEventType string

const (
	EventTypeBatchStarted   StatusEventType = "batch_started"   // EventTypeBatchStarted indicates a batch run has started.
	EventTypeBatchProgress  StatusEventType = "batch_progress"  // EventTypeBatchProgress indicates per-page progress within a run.
	EventTypePageProcessed  StatusEventType = "page_processed"  // EventTypePageProcessed indicates a page was converted successfully.
	EventTypePageFailed     StatusEventType = "page_failed"     // EventTypePageFailed indicates a page failed and was skipped.
	EventTypeBatchCompleted StatusEventType = "batch_completed" // EventTypeBatchCompleted indicates the run finished with at least one success and the archive was produced.
	EventTypeBatchCancelled StatusEventType = "batch_cancelled" // EventTypeBatchCancelled indicates the run was cancelled between pages.
	EventTypeBatchErrored   StatusEventType = "batch_errored"   // EventTypeBatchErrored indicates the run ended fatally with nothing converted.
)

// StatusLevel indicates the severity of a status event.
type StatusLevel string

const (
	LevelInfo  StatusLevel = "info"
	LevelWarn  StatusLevel = "warn"
	LevelError StatusLevel = "error"
)

// StatusEvent is a snapshot of run progress broadcast on every state
// transition and per-page event. The most recent event is retained by the
// Broadcaster so late subscribers can query current status without having
// seen the stream.
type StatusEvent struct {
	// Type indicates the kind of event.
	Type StatusEventType

	// Processed is the number of pages converted so far.
	Processed int

	// Failed is the number of pages that failed so far.
	Failed int

	// Total is the number of pages in the run.
	Total int

	// Running indicates whether a run is active after this event.
	Running bool

	// Message is a human-readable description of the event.
	Message string

	// Level is the severity of the event.
	Level StatusLevel
}

// NewBatchStartedEvent creates a batch started event.
func NewBatchStartedEvent(total int, folderName string) *StatusEvent {
	return &StatusEvent{
		Type:    EventTypeBatchStarted,
		Total:   total,
		Running: true,
		Message: "batch started: " + folderName,
		Level:   LevelInfo,
	}
}

// NewBatchProgressEvent creates a progress event for the page about to be processed.
func NewBatchProgressEvent(processed, failed, total int, message string) *StatusEvent {
	return &StatusEvent{
		Type:      EventTypeBatchProgress,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Running:   true,
		Message:   message,
		Level:     LevelInfo,
	}
}

// NewPageProcessedEvent creates a page processed event.
func NewPageProcessedEvent(processed, failed, total int, fileName string) *StatusEvent {
	return &StatusEvent{
		Type:      EventTypePageProcessed,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Running:   true,
		Message:   "converted " + fileName,
		Level:     LevelInfo,
	}
}

// NewPageFailedEvent creates a page failed event.
func NewPageFailedEvent(processed, failed, total int, err error) *StatusEvent {
	return &StatusEvent{
		Type:      EventTypePageFailed,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Running:   true,
		Message:   "page failed: " + err.Error(),
		Level:     LevelWarn,
	}
}

// NewBatchCompletedEvent creates a batch completed event.
func NewBatchCompletedEvent(processed, failed, total int, archiveName string) *StatusEvent {
	return &StatusEvent{
		Type:      EventTypeBatchCompleted,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Running:   false,
		Message:   "archive saved: " + archiveName,
		Level:     LevelInfo,
	}
}

// NewBatchCancelledEvent creates a batch cancelled event.
func NewBatchCancelledEvent(processed, failed, total int) *StatusEvent {
	return &StatusEvent{
		Type:      EventTypeBatchCancelled,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Running:   false,
		Message:   "batch cancelled",
		Level:     LevelWarn,
	}
}

// NewBatchErroredEvent creates a batch errored event.
func NewBatchErroredEvent(processed, failed, total int, err error) *StatusEvent {
	return &StatusEvent{
		Type:      EventTypeBatchErrored,
		Processed: processed,
		Failed:    failed,
		Total:     total,
		Running:   false,
		Message:   "batch errored: " + err.Error(),
		Level:     LevelError,
	}
}

// NewIdleEvent creates the status snapshot reported before any run has started.
func NewIdleEvent() *StatusEvent {
	return &StatusEvent{
		Type:    EventTypeBatchProgress,
		Running: false,
		Message: "idle",
		Level:   LevelInfo,
	}
}
