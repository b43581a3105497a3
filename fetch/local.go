package fetch

import (
	"context"
	"time"

	"github.com/Paranoid-AF/ghostline"
)

// Completer produces a response in process. *generate.Engine satisfies it.
type Completer interface {
	Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response
}

// Local fetches suggestions from an in-process Completer with the same
// timeout, cancellation and logging rules as Client.
type Local struct {
	settings
	completer Completer
}

// NewLocal wraps c.
func NewLocal(c Completer, opts ...Option) *Local {
	return &Local{settings: newSettings(opts), completer: c}
}

// Fetch returns the suggestion for req, or "" when there is none for any reason.
func (l *Local) Fetch(ctx context.Context, req *ghostline.Request) string {
	return l.FetchResult(ctx, req).Suggestion
}

// FetchResult runs the completer once and reports how it ended.
func (l *Local) FetchResult(ctx context.Context, req *ghostline.Request) Result {
	start := time.Now()
	res := l.do(ctx, req)
	res.Elapsed = time.Since(start)
	l.report(req, res)
	return res
}

func (l *Local) do(parent context.Context, req *ghostline.Request) Result {
	if err := ghostline.ValidateRequest(req); err != nil {
		return Result{Cause: CauseValidation, Err: err}
	}
	if parent.Err() != nil {
		return Result{Cause: CauseCancelled, Err: context.Cause(parent)}
	}

	ctx, cancel := context.WithTimeoutCause(parent, l.timeout, ErrTimeout)
	defer cancel()

	// The completer gets its own copy so it may normalize fields freely.
	cp := *req
	done := make(chan *ghostline.Response, 1)
	go func() { done <- l.completer.Complete(ctx, &cp) }()

	select {
	case resp := <-done:
		if ctx.Err() != nil {
			return failure(ctx, ctx.Err())
		}
		return fromResponse(resp)
	case <-ctx.Done():
		return failure(ctx, ctx.Err())
	}
}
