// Package fetch sends completion requests to the ghostline service.
//
// Every failure resolves to "no suggestion". The distinct causes (timeout,
// cancellation, validation, transport) are logged at different levels and
// reported in Result so they stay distinguishable.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Paranoid-AF/ghostline"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// FailureMessage is shown to the user when the service cannot be reached.
const FailureMessage = "Failed to fetch AI completion"

// SessionHeader carries the caller's session ID so the service can cancel
// superseded requests of the same editor.
const SessionHeader = "X-Ghostline-Session"

// maxResponseBytes caps how much of a reply is read.
const maxResponseBytes = 1 << 20

// ErrTimeout is the cause of a request that exceeded its timeout.
var ErrTimeout = errors.New("suggestion request timed out")

// Cause classifies how a request ended.
type Cause string

const (
	CauseOK         Cause = "ok"
	CauseEmpty      Cause = "empty"
	CauseCancelled  Cause = "cancelled"
	CauseTimeout    Cause = "timeout"
	CauseValidation Cause = "validation"
	CauseTransport  Cause = "transport"
)

// Result is the outcome of one request. Suggestion is empty unless Cause is
// CauseOK.
type Result struct {
	Suggestion string
	Cause      Cause
	Err        error
	Elapsed    time.Duration
}

// Notifier shows a short message to the user.
// It is called from the goroutine running the request.
type Notifier interface {
	Notify(msg string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg string)

// Notify calls f(msg).
func (f NotifierFunc) Notify(msg string) { f(msg) }

// settings are shared by Client and Local.
type settings struct {
	timeout  time.Duration
	notifier Notifier
	session  string
	logger   *slog.Logger
	http     *http.Client
}

// Option configures a Client or a Local fetcher.
type Option func(*settings)

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNotifier sets the notifier used for transport failures.
func WithNotifier(n Notifier) Option {
	return func(s *settings) { s.notifier = n }
}

// WithSession sets the session ID sent with every request.
func WithSession(id string) Option {
	return func(s *settings) { s.session = id }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient replaces the HTTP client used by Client. The transport of a
// unix:// service URL is still installed on a copy of it.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.http = c }
}

func newSettings(opts []Option) settings {
	s := settings{
		timeout: DefaultTimeout,
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Client talks to the completion service over HTTP.
type Client struct {
	settings
	base string
}

// NewClient creates a client for serviceURL. A unix:///path/to.sock URL dials
// the Unix socket; http and https URLs use TCP.
func NewClient(serviceURL string, opts ...Option) (*Client, error) {
	s := newSettings(opts)
	hc := &http.Client{}
	if s.http != nil {
		copied := *s.http
		hc = &copied
	}

	c := &Client{settings: s}
	switch {
	case strings.HasPrefix(serviceURL, "unix://"):
		sockPath := strings.TrimPrefix(serviceURL, "unix://")
		if sockPath == "" {
			return nil, fmt.Errorf("service url %q has no socket path", serviceURL)
		}
		hc.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", sockPath)
			},
		}
		c.base = "http://ghostline"
	case strings.HasPrefix(serviceURL, "http://"), strings.HasPrefix(serviceURL, "https://"):
		c.base = strings.TrimRight(serviceURL, "/")
	default:
		return nil, fmt.Errorf("unsupported service url %q", serviceURL)
	}
	c.http = hc
	return c, nil
}

// Session returns the session ID sent with every request.
func (c *Client) Session() string { return c.session }

// Fetch returns the suggestion for req, or "" when there is none for any reason.
func (c *Client) Fetch(ctx context.Context, req *ghostline.Request) string {
	return c.FetchResult(ctx, req).Suggestion
}

// FetchResult sends req once and reports how it ended. It never retries.
func (c *Client) FetchResult(ctx context.Context, req *ghostline.Request) Result {
	start := time.Now()
	res := c.do(ctx, req)
	res.Elapsed = time.Since(start)
	c.report(req, res)
	return res
}

func (c *Client) do(parent context.Context, req *ghostline.Request) Result {
	if err := ghostline.ValidateRequest(req); err != nil {
		return Result{Cause: CauseValidation, Err: err}
	}
	if parent.Err() != nil {
		return Result{Cause: CauseCancelled, Err: context.Cause(parent)}
	}

	ctx, cancel := context.WithTimeoutCause(parent, c.timeout, ErrTimeout)
	defer cancel()

	data, err := json.Marshal(req)
	if err != nil {
		return Result{Cause: CauseValidation, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/suggestion", bytes.NewReader(data))
	if err != nil {
		return Result{Cause: CauseTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.session != "" {
		httpReq.Header.Set(SessionHeader, c.session)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return failure(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return failure(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var wire ghostline.Response
		if json.Unmarshal(body, &wire) == nil && wire.Error != nil {
			msg = wire.Error.Code + ": " + wire.Error.Message
		}
		return Result{Cause: CauseTransport, Err: fmt.Errorf("service error (status %d): %s", resp.StatusCode, msg)}
	}

	decoded, err := ghostline.DecodeResponse(body)
	if err != nil {
		return Result{Cause: CauseValidation, Err: err}
	}
	return fromResponse(decoded)
}

// fromResponse maps a decoded service reply to a Result.
func fromResponse(resp *ghostline.Response) Result {
	if resp == nil {
		return Result{Cause: CauseEmpty}
	}
	if resp.Error != nil {
		return Result{Cause: CauseTransport, Err: fmt.Errorf("service error: %s: %s", resp.Error.Code, resp.Error.Message)}
	}
	if resp.Suggestion == "" {
		return Result{Cause: CauseEmpty}
	}
	return Result{Suggestion: resp.Suggestion, Cause: CauseOK}
}

// failure classifies an error seen while ctx may have ended.
func failure(ctx context.Context, err error) Result {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, ErrTimeout) {
			return Result{Cause: CauseTimeout, Err: ErrTimeout}
		}
		return Result{Cause: CauseCancelled, Err: cause}
	}
	return Result{Cause: CauseTransport, Err: err}
}

// report logs res at the level matching its cause and notifies the user of
// transport failures.
func (s *settings) report(req *ghostline.Request, res Result) {
	attrs := []any{"cause", string(res.Cause), "elapsed", res.Elapsed}
	if req != nil {
		attrs = append(attrs, "file", req.FileName, "line", req.LineNumber)
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}

	switch res.Cause {
	case CauseOK, CauseEmpty:
		s.logger.Debug("suggestion fetched", append(attrs, "length", len(res.Suggestion))...)
	case CauseCancelled:
		s.logger.Debug("suggestion request cancelled", attrs...)
	case CauseTimeout:
		s.logger.Info("suggestion request timed out", attrs...)
	case CauseValidation:
		s.logger.Error("suggestion request failed validation", attrs...)
	case CauseTransport:
		s.logger.Error("suggestion request failed", attrs...)
		if s.notifier != nil {
			s.notifier.Notify(FailureMessage)
		}
	}
}
