package target

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/entrhq/docpack/pkg/probe"
)

// ErrNavigationTimeout indicates a full navigation did not confirm arrival
// before the deadline.
var ErrNavigationTimeout = errors.New("navigation timed out")

// Driver is the narrow page surface the coordinator needs. *Target
// implements it; tests use fakes.
type Driver interface {
	Address() (string, error)
	Navigate(ctx context.Context, address string, timeout time.Duration) error
	SetFragment(ctx context.Context, fragment string) error
}

// PendingMarker is notified before a full navigation destroys the target's
// script context, so agent requests buffer instead of hitting a dead agent.
type PendingMarker interface {
	MarkPending(targetID string)
}

// Coordinator drives the one target to destination addresses and resolves
// only once arrival is confirmed.
//
// Fragment-only transitions (same document, different trailing locator) are
// performed in place and never mark the target pending: the agent instance
// survives them. Full transitions mark the target pending first, then race
// the navigation result against a parallel address poll and a deadline; the
// poll is the success path for client-side routers that never fire a
// conventional navigation-completed signal.
type Coordinator struct {
	driver       Driver
	pending      PendingMarker
	targetID     string
	timeout      time.Duration
	pollInterval time.Duration
}

// NewCoordinator creates a coordinator for one target.
func NewCoordinator(driver Driver, pending PendingMarker, targetID string, timeout, pollInterval time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Coordinator{
		driver:       driver,
		pending:      pending,
		targetID:     targetID,
		timeout:      timeout,
		pollInterval: pollInterval,
	}
}

// Navigate moves the target to dest. Navigating to the current address with
// no fragment change is a no-op.
func (c *Coordinator) Navigate(ctx context.Context, dest string) error {
	current, err := c.driver.Address()
	if err != nil {
		return fmt.Errorf("failed to read target address: %w", err)
	}

	if current == dest {
		return nil
	}

	if sameDocument(current, dest) {
		if err := c.fragmentTransition(ctx, dest); err == nil {
			return nil
		}
		// In-place update failed (script injection refused, poll never
		// confirmed). Fall back to the full-navigation path.
	}

	return c.fullTransition(ctx, dest)
}

// fragmentTransition updates only the location fragment inside the current
// document and confirms by polling the reported address.
func (c *Coordinator) fragmentTransition(ctx context.Context, dest string) error {
	du, err := url.Parse(dest)
	if err != nil {
		return fmt.Errorf("invalid destination address: %w", err)
	}

	if err := c.driver.SetFragment(ctx, du.Fragment); err != nil {
		return err
	}

	// Fragment updates apply synchronously in practice; the poll guards
	// against a router intercepting the change.
	deadline := time.NewTimer(2 * time.Second)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		current, err := c.driver.Address()
		if err == nil && fragmentReflected(current, du.Fragment) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("fragment update not reflected in address")
		case <-ticker.C:
		}
	}
}

// fullTransition marks the target pending, issues the navigation, and waits
// for the first of: navigation result, poll confirmation, deadline.
func (c *Coordinator) fullTransition(ctx context.Context, dest string) error {
	if c.pending != nil {
		c.pending.MarkPending(c.targetID)
	}

	navDone := make(chan error, 1)
	go func() {
		navDone <- c.driver.Navigate(ctx, dest, c.timeout)
	}()

	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	navPending := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-navDone:
			navPending = false
			if err != nil {
				return fmt.Errorf("navigation to %s: %w", dest, err)
			}
			if c.arrived(dest) {
				return nil
			}
			// Load event fired but the address does not match yet; the
			// client-side router may still be rewriting. Keep polling.

		case <-ticker.C:
			if c.arrived(dest) {
				// Secondary success path for single-page applications.
				return nil
			}

		case <-deadline.C:
			if navPending {
				// Let the stray navigation goroutine drain.
				go func() { <-navDone }()
			}
			return fmt.Errorf("navigation to %s: %w", dest, ErrNavigationTimeout)
		}
	}
}

// arrived reports whether the target's address loosely matches dest.
func (c *Coordinator) arrived(dest string) bool {
	current, err := c.driver.Address()
	if err != nil {
		return false
	}
	return probe.AddressMatches(current, dest)
}

// sameDocument reports whether two addresses identify the same document,
// differing only in the fragment.
func sameDocument(a, b string) bool {
	au, err := url.Parse(a)
	if err != nil {
		return false
	}
	bu, err := url.Parse(b)
	if err != nil {
		return false
	}
	return au.Scheme == bu.Scheme &&
		au.Host == bu.Host &&
		au.Path == bu.Path &&
		au.RawQuery == bu.RawQuery
}

// fragmentReflected reports whether the address carries the expected fragment.
func fragmentReflected(address, fragment string) bool {
	u, err := url.Parse(address)
	if err != nil {
		return false
	}
	return u.Fragment == fragment
}
