package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/docpack/pkg/delivery"
	"github.com/entrhq/docpack/pkg/logging"
	"github.com/entrhq/docpack/pkg/target"
)

// Agent manages the in-page counterpart that serves metrics, content, and
// topic-selection requests. A new instance exists after every full reload;
// Install hooks the page's load event so each replacement announces itself
// to the delivery queue.
type Agent struct {
	target *target.Target
	queue  *delivery.Queue
	log    *logging.Logger
}

// NewAgent creates the agent controller for one target.
func NewAgent(t *target.Target, queue *delivery.Queue, log *logging.Logger) *Agent {
	return &Agent{
		target: t,
		queue:  queue,
		log:    log,
	}
}

// Install injects the agent into the current document and arranges for
// re-injection after every full reload.
func (a *Agent) Install() error {
	a.target.Page.OnLoad(func(playwright.Page) {
		// Runs on the event loop goroutine; announce must not block it.
		go a.announce()
	})
	return a.announce()
}

// announce injects the agent script into the current document and flushes
// the delivery queue.
func (a *Agent) announce() error {
	if _, err := a.target.Evaluate(agentScript); err != nil {
		if a.log != nil {
			a.log.Warnf("agent injection failed on %s: %v", a.target.ID, err)
		}
		return fmt.Errorf("agent injection failed: %w", err)
	}

	if a.log != nil {
		a.log.Debugf("agent announced ready on %s", a.target.ID)
	}
	a.queue.MarkReady(a.target.ID)
	return nil
}

// NewTransport returns the delivery transport that forwards requests to
// the target's current agent instance. A dead script context surfaces as
// ErrNoReceiver so the queue buffers instead of failing.
func NewTransport(t *target.Target) delivery.Transport {
	return func(_ context.Context, _ string, req delivery.Request) (interface{}, error) {
		result, err := t.Evaluate(
			`(call) => {
				if (!window.__docpackAgent) { return { __noReceiver: true }; }
				return window.__docpackAgent.handle(call.action, call.args || {});
			}`,
			map[string]interface{}{"action": req.Action, "args": req.Args},
		)
		if err != nil {
			if isContextDestroyed(err) {
				return nil, fmt.Errorf("evaluate %q: %w", req.Action, delivery.ErrNoReceiver)
			}
			return nil, fmt.Errorf("evaluate %q: %w", req.Action, err)
		}

		if m, ok := result.(map[string]interface{}); ok {
			if noReceiver, _ := m["__noReceiver"].(bool); noReceiver {
				return nil, fmt.Errorf("agent not installed: %w", delivery.ErrNoReceiver)
			}
		}
		return result, nil
	}
}

// isContextDestroyed classifies evaluate failures caused by the script
// context dying mid-call (reload in progress).
func isContextDestroyed(err error) bool {
	msg := err.Error()
	for _, marker := range []string{
		"Execution context was destroyed",
		"Cannot find context",
		"Target closed",
		"Target page, context or browser has been closed",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// agentScript is the in-page counterpart. It answers three request kinds:
//
//	metrics    - content-sufficiency snapshot for the readiness prober
//	content    - main-content HTML plus title for Go-side conversion
//	document   - full document HTML for link discovery
//	selectTopic- activate an in-page tab/topic control without navigating
const agentScript = `(() => {
	if (window.__docpackAgent) { return true; }

	const contentRoot = () => {
		const selectors = ['main', 'article', '[role="main"]', '.markdown-body', '#content', '.content', '.doc-content'];
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el) { return el; }
		}
		return document.body;
	};

	const fingerprint = (text) => {
		let h = 5381;
		const slice = text.slice(0, 4000);
		for (let i = 0; i < slice.length; i++) {
			h = ((h << 5) + h + slice.charCodeAt(i)) >>> 0;
		}
		return h.toString(16) + ':' + text.length;
	};

	const firstHeading = (root) => {
		const el = root.querySelector('h1, h2');
		return el ? el.innerText.trim() : '';
	};

	const topicControls = () => {
		const found = document.querySelectorAll('[role="tab"], .topic-tab, [data-topic]');
		return Array.from(found);
	};

	window.__docpackAgent = {
		handle(action, args) {
			switch (action) {
			case 'metrics': {
				const root = contentRoot();
				const text = (root.innerText || '').trim();
				return {
					address: window.location.href,
					hasContent: !!root,
					textVolume: text.length,
					structuralCount: root.querySelectorAll('h1,h2,h3,h4,h5,h6,table,pre,ul,ol').length,
					hasDiagram: !!root.querySelector('svg,canvas,.mermaid'),
					heading: firstHeading(root),
					contentHash: fingerprint(text)
				};
			}
			case 'content': {
				const root = contentRoot();
				if (!root) { return { ok: false, error: 'no content root' }; }
				const heading = firstHeading(root);
				return {
					ok: true,
					html: root.outerHTML,
					title: heading || document.title || '',
					address: window.location.href
				};
			}
			case 'document': {
				return {
					html: document.documentElement.outerHTML,
					address: window.location.href,
					title: document.title || ''
				};
			}
			case 'selectTopic': {
				const controls = topicControls();
				let control = null;
				if (typeof args.index === 'number' && args.index >= 0 && args.index < controls.length) {
					control = controls[args.index];
				}
				if (!control && args.title) {
					const want = String(args.title).trim().toLowerCase();
					control = controls.find(c => (c.innerText || '').trim().toLowerCase() === want) || null;
				}
				if (!control) { return { ok: false, error: 'topic control not found' }; }
				control.click();
				return { ok: true, selectedTitle: (control.innerText || '').trim() };
			}
			default:
				return { ok: false, error: 'unknown action: ' + action };
			}
		}
	};
	return true;
})()`
