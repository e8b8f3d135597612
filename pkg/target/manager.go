package target

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright runtime and the registry of open targets.
// A batch run drives exactly one target, but the registry is keyed by ID so
// target-closed cleanup has a defined lifecycle.
type Manager struct {
	mu          sync.RWMutex
	targets     map[string]*Target
	playwright  *playwright.Playwright
	initialized bool
}

// NewManager creates a new target manager.
func NewManager() *Manager {
	return &Manager{
		targets: make(map[string]*Target),
	}
}

// Initialize installs and starts the Playwright runtime.
// This must be called before opening any targets.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	// Discard driver output so it does not interleave with status output.
	opts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	return nil
}

// Open launches a browser and opens the driving target.
func (m *Manager) Open(id string, opts Options) (*Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.targets[id]; exists {
		return nil, fmt.Errorf("target %q already exists", id)
	}
	if !m.initialized {
		return nil, fmt.Errorf("target manager not initialized")
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	browser, err := m.playwright.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browserCtx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	now := time.Now()
	t := &Target{
		ID:         id,
		Browser:    browser,
		Context:    browserCtx,
		Page:       page,
		Headless:   opts.Headless,
		CreatedAt:  now,
		LastUsedAt: now,
		closed:     make(chan struct{}),
	}

	// The tab being closed mid-run is a run-fatal condition; surface it
	// through the target's Closed channel.
	page.OnClose(func(playwright.Page) {
		t.markClosed()
	})

	m.targets[id] = t
	return t, nil
}

// Get retrieves an open target by ID.
func (m *Manager) Get(id string) (*Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, exists := m.targets[id]
	if !exists {
		return nil, fmt.Errorf("target %q not found", id)
	}
	return t, nil
}

// Close closes and removes a target.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, exists := m.targets[id]
	if !exists {
		return fmt.Errorf("target %q not found", id)
	}

	t.markClosed()
	_ = t.Page.Close()    // Ignore errors, continue cleanup
	_ = t.Context.Close() // Ignore errors, continue cleanup
	_ = t.Browser.Close() // Ignore errors, continue cleanup

	delete(m.targets, id)
	return nil
}

// Shutdown closes all targets and stops the Playwright runtime.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.targets {
		t.markClosed()
		t.Page.Close()
		t.Context.Close()
		t.Browser.Close()
		delete(m.targets, id)
	}

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
	}
	return nil
}
