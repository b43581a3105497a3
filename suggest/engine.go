package suggest

import (
	"log/slog"
	"time"

	"github.com/Paranoid-AF/ghostline/document"
	"github.com/Paranoid-AF/ghostline/extract"
	"github.com/Paranoid-AF/ghostline/loop"
	"github.com/Paranoid-AF/ghostline/toggle"
)

// Options configure Attach. Zero values select defaults.
type Options struct {
	FileName     string
	Fetcher      Fetcher
	Toggle       *toggle.Toggle // defaults to an enabled in-memory toggle
	Debounce     time.Duration  // defaults to DefaultDebounce
	ContextLines int            // defaults to extract.DefaultLines
	AcceptKey    string         // defaults to DefaultAcceptKey
	Logger       *slog.Logger
}

// Engine is the suggestion machinery attached to one view.
type Engine struct {
	Store      *Store
	Controller *Controller
	Presenter  *Presenter

	view     *document.View
	detached bool
}

// Attach installs the store, controller, presenter and accept binding on v
// and starts the first attempt. It must run on l.
func Attach(v *document.View, l *loop.Loop, opts Options) *Engine {
	if opts.Toggle == nil {
		opts.Toggle = toggle.New(true)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.ContextLines <= 0 {
		opts.ContextLines = extract.DefaultLines
	}
	if opts.AcceptKey == "" {
		opts.AcceptKey = DefaultAcceptKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("file", opts.FileName)

	store := NewStore()
	ctrl := newController(v, l, store, opts)
	e := &Engine{
		Store:      store,
		Controller: ctrl,
		Presenter:  &Presenter{view: v, store: store, ctrl: ctrl},
		view:       v,
	}

	v.AddField(store)
	v.AddPlugin(ctrl)
	v.AddDecorations(e.Presenter)
	accept := AcceptBinding(opts.AcceptKey, store)
	run := accept.Run
	accept.Run = func(v *document.View) bool {
		// Only what the presenter shows can be accepted.
		if _, visible := Project(e.Presenter.State()); e.detached || !visible {
			return false
		}
		return run(v)
	}
	v.AddKeymap(accept)

	ctrl.trigger()
	return e
}

// Detach stops the controller and hides any suggestion. It must run on the
// view's loop.
func (e *Engine) Detach() {
	if e.detached {
		return
	}
	e.detached = true
	e.view.RemovePlugin(e.Controller)
	e.Controller.Destroy()
}
