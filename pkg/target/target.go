package target

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Target is the single browser tab/document instance driving a batch run.
// A full navigation destroys the page's script context; the Closed channel
// fires only when the tab itself goes away.
type Target struct {
	// ID is the unique identifier for this target
	ID string

	// Browser is the Playwright browser instance
	Browser playwright.Browser

	// Context is the browser context (isolated profile)
	Context playwright.BrowserContext

	// Page is the driven page
	Page playwright.Page

	// Headless indicates if the browser is running in headless mode
	Headless bool

	// CreatedAt is the timestamp when the target was opened
	CreatedAt time.Time

	// LastUsedAt is the timestamp of the last operation on this target
	LastUsedAt time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (t *Target) UpdateLastUsed() {
	t.LastUsedAt = time.Now()
}

// Address returns the page's currently reported location.
func (t *Target) Address() (string, error) {
	select {
	case <-t.closed:
		return "", fmt.Errorf("target %q is closed", t.ID)
	default:
	}
	return t.Page.URL(), nil
}

// Navigate issues a full navigation and blocks until the document load
// event, a navigation error, or the timeout.
func (t *Target) Navigate(_ context.Context, address string, timeout time.Duration) error {
	t.UpdateLastUsed()

	waitUntil := playwright.WaitUntilStateDomcontentloaded
	timeoutMs := float64(timeout.Milliseconds())
	_, err := t.Page.Goto(address, playwright.PageGotoOptions{
		WaitUntil: waitUntil,
		Timeout:   &timeoutMs,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// SetFragment performs an in-place location update inside the existing
// document. The script context survives, so the in-page agent does too.
func (t *Target) SetFragment(_ context.Context, fragment string) error {
	t.UpdateLastUsed()

	_, err := t.Page.Evaluate(`(h) => { window.location.hash = h; }`, fragment)
	if err != nil {
		return fmt.Errorf("fragment update failed: %w", err)
	}
	return nil
}

// Evaluate runs a script in the page's current script context.
func (t *Target) Evaluate(expression string, args ...interface{}) (interface{}, error) {
	t.UpdateLastUsed()

	if len(args) > 0 {
		return t.Page.Evaluate(expression, args[0])
	}
	return t.Page.Evaluate(expression)
}

// Closed returns a channel that fires when the tab is closed.
func (t *Target) Closed() <-chan struct{} {
	return t.closed
}

// markClosed fires the Closed channel. Safe to call multiple times.
func (t *Target) markClosed() {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
}
