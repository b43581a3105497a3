package suggest

import (
	"context"
	"log/slog"
	"time"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/document"
	"github.com/Paranoid-AF/ghostline/extract"
	"github.com/Paranoid-AF/ghostline/loop"
	"github.com/Paranoid-AF/ghostline/toggle"
)

// DefaultDebounce is the quiet period after the last edit before a request
// is sent.
const DefaultDebounce = 150 * time.Millisecond

// Fetcher returns a suggestion for req, or "" when there is none. It must
// return promptly once ctx is cancelled. *fetch.Client and *fetch.Local
// satisfy it.
type Fetcher interface {
	Fetch(ctx context.Context, req *ghostline.Request) string
}

// Phase is the controller's lifecycle state.
type Phase int

const (
	Idle Phase = iota
	Debouncing
	Requesting
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Requesting:
		return "requesting"
	default:
		return "unknown"
	}
}

// Stats counts requests over the controller's lifetime.
type Stats struct {
	Requests int // sent to the fetcher
	Applied  int // results written to the store
	Dropped  int // results discarded as superseded or cancelled
}

// flight is one in-flight request.
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Controller is a view plugin that turns edits into suggestion requests.
// At most one request is in flight; starting a new attempt cancels the
// previous one and results of cancelled requests are never applied.
//
// All methods run on the loop goroutine.
type Controller struct {
	view     *document.View
	loop     *loop.Loop
	store    *Store
	toggle   *toggle.Toggle
	fetcher  Fetcher
	fileName string
	debounce time.Duration
	lines    int
	logger   *slog.Logger

	timer       *loop.Timer
	inFlight    *flight
	waiting     bool
	phase       Phase
	destroyed   bool
	unsubscribe func()
	stats       Stats
}

func newController(v *document.View, l *loop.Loop, store *Store, opts Options) *Controller {
	c := &Controller{
		view:     v,
		loop:     l,
		store:    store,
		toggle:   opts.Toggle,
		fetcher:  opts.Fetcher,
		fileName: opts.FileName,
		debounce: opts.Debounce,
		lines:    opts.ContextLines,
		logger:   opts.Logger,
	}
	c.unsubscribe = c.toggle.Subscribe(func(bool) {
		c.loop.Post(c.toggled)
	})
	return c
}

// Update implements document.Plugin.
func (c *Controller) Update(u document.Update) {
	if u.DocChanged || u.SelectionSet {
		c.trigger()
	}
}

// Destroy implements document.Plugin. It cancels pending work; the
// controller never touches the view afterwards.
func (c *Controller) Destroy() {
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.cancelPending()
	c.waiting = false
	c.phase = Idle
	c.unsubscribe()
}

// Phase returns the lifecycle state.
func (c *Controller) Phase() Phase { return c.phase }

// Waiting reports whether a newer suggestion is pending.
func (c *Controller) Waiting() bool { return c.waiting }

// Enabled reports whether suggestions are turned on.
func (c *Controller) Enabled() bool { return !c.destroyed && c.toggle.Enabled() }

// Stats returns request counters.
func (c *Controller) Stats() Stats { return c.stats }

// trigger starts a new attempt. It may run while the view is delivering an
// update, so it never dispatches directly.
func (c *Controller) trigger() {
	if c.destroyed {
		return
	}
	c.cancelPending()
	if !c.toggle.Enabled() {
		c.waiting = false
		c.phase = Idle
		c.clearNextTick()
		return
	}

	c.waiting = true
	if _, ok := c.store.Get(); ok {
		c.clearNextTick()
	}
	c.phase = Debouncing
	c.timer = c.loop.AfterFunc(c.debounce, c.fire)
}

// fire runs when the debounce timer expires.
func (c *Controller) fire() {
	c.timer = nil
	if c.destroyed {
		return
	}
	if !c.toggle.Enabled() {
		c.waiting = false
		c.phase = Idle
		c.clear()
		return
	}

	req := extract.RequestLines(c.view.Text(), c.view.Cursor(), c.fileName, c.lines)
	if req == nil {
		c.waiting = false
		c.phase = Idle
		c.clear()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &flight{ctx: ctx, cancel: cancel}
	c.inFlight = f
	c.phase = Requesting
	c.stats.Requests++
	c.logger.Debug("requesting suggestion", "file", c.fileName, "line", req.LineNumber)

	go func() {
		text := c.fetcher.Fetch(ctx, req)
		if !c.loop.Post(func() { c.resolve(f, text) }) {
			cancel()
		}
	}()
}

// resolve applies a finished request unless it was superseded, cancelled,
// or suggestions were turned off before it arrived.
func (c *Controller) resolve(f *flight, text string) {
	stale := c.destroyed || c.inFlight != f || f.ctx.Err() != nil || !c.toggle.Enabled()
	f.cancel()
	if stale {
		c.stats.Dropped++
		c.logger.Debug("dropped stale suggestion", "length", len(text))
		return
	}

	c.inFlight = nil
	c.waiting = false
	c.phase = Idle
	c.stats.Applied++
	c.set(text)
}

// toggled handles a change of the shared toggle on the loop.
func (c *Controller) toggled() {
	if c.destroyed {
		return
	}
	if c.toggle.Enabled() {
		c.trigger()
		return
	}
	c.cancelPending()
	c.waiting = false
	c.phase = Idle
	c.clear()
}

func (c *Controller) cancelPending() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.inFlight != nil {
		c.inFlight.cancel()
		c.inFlight = nil
	}
}

// clearNextTick clears the store from a later loop task, when no update is
// being delivered.
func (c *Controller) clearNextTick() {
	c.loop.Post(func() {
		if c.destroyed {
			return
		}
		// A result applied in between belongs to a newer attempt.
		if c.waiting || !c.toggle.Enabled() {
			c.clear()
		}
	})
}

func (c *Controller) clear() {
	if _, ok := c.store.Get(); ok {
		c.set("")
	}
}

func (c *Controller) set(text string) {
	if err := c.view.Dispatch(document.Transaction{Effects: []any{SetSuggestion(text)}}); err != nil {
		c.logger.Warn("failed to update suggestion", "error", err)
	}
}
