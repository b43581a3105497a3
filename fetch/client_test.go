package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranoid-AF/ghostline"
)

func sampleRequest() *ghostline.Request {
	return &ghostline.Request{
		FileName:         "main.js",
		Code:             "func",
		CurrentLine:      "func",
		TextBeforeCursor: "func",
		LineNumber:       1,
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func TestFetchSuggestion(t *testing.T) {
	var gotSession string
	var gotReq ghostline.Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/suggestion", r.URL.Path)
		gotSession = r.Header.Get(SessionHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"suggestion":"tion() {}"}`)
	}, WithSession("s-1"))

	res := c.FetchResult(context.Background(), sampleRequest())

	assert.Equal(t, CauseOK, res.Cause)
	assert.Equal(t, "tion() {}", res.Suggestion)
	assert.NoError(t, res.Err)
	assert.Equal(t, "s-1", gotSession)
	assert.Equal(t, *sampleRequest(), gotReq)
}

func TestFetchEmptySuggestion(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"suggestion":""}`)
	})
	res := c.FetchResult(context.Background(), sampleRequest())
	assert.Equal(t, CauseEmpty, res.Cause)
	assert.Empty(t, res.Suggestion)
}

func TestFetchTransportFailureNotifies(t *testing.T) {
	var notes []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"suggestion":"","error":{"code":"api_error","message":"boom"}}`)
	}, WithNotifier(NotifierFunc(func(msg string) { notes = append(notes, msg) })))

	res := c.FetchResult(context.Background(), sampleRequest())

	assert.Equal(t, CauseTransport, res.Cause)
	assert.Empty(t, res.Suggestion)
	assert.ErrorContains(t, res.Err, "api_error: boom")
	assert.Equal(t, []string{FailureMessage}, notes)
}

func TestFetchUnreachableService(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	notified := 0
	c, err := NewClient(url, WithNotifier(NotifierFunc(func(string) { notified++ })))
	require.NoError(t, err)

	assert.Empty(t, c.Fetch(context.Background(), sampleRequest()))
	assert.Equal(t, 1, notified)
}

func TestFetchInvalidResponseShape(t *testing.T) {
	notified := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"suggestion":42}`)
	}, WithNotifier(NotifierFunc(func(string) { notified++ })))

	res := c.FetchResult(context.Background(), sampleRequest())
	assert.Equal(t, CauseValidation, res.Cause)
	assert.ErrorIs(t, res.Err, ghostline.ErrInvalidResponse)
	assert.Zero(t, notified, "validation failures are logged, not notified")
}

func TestFetchInvalidRequestIsNotSent(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	req := sampleRequest()
	req.LineNumber = 0
	res := c.FetchResult(context.Background(), req)

	assert.Equal(t, CauseValidation, res.Cause)
	assert.ErrorIs(t, res.Err, ghostline.ErrInvalidRequest)
	assert.Zero(t, hits.Load())
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	notified := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond), WithNotifier(NotifierFunc(func(string) { notified++ })))

	res := c.FetchResult(context.Background(), sampleRequest())

	assert.Equal(t, CauseTimeout, res.Cause)
	assert.ErrorIs(t, res.Err, ErrTimeout)
	assert.Less(t, res.Elapsed, 2*time.Second)
	assert.Zero(t, notified)
}

func TestFetchCancelled(t *testing.T) {
	started := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	res := c.FetchResult(ctx, sampleRequest())

	assert.Equal(t, CauseCancelled, res.Cause)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Suggestion)
}

func TestFetchAlreadyCancelledSendsNothing(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := c.FetchResult(ctx, sampleRequest())

	assert.Equal(t, CauseCancelled, res.Cause)
	assert.Zero(t, hits.Load())
}

func TestFetchNeverRetries(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c.Fetch(context.Background(), sampleRequest())
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchOverUnixSocket(t *testing.T) {
	sockPath := fmt.Sprintf("/tmp/ghostline-fetch-test-%d.sock", os.Getpid())
	os.Remove(sockPath)
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)
	defer os.Remove(sockPath)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"suggestion":"ok"}`)
	})}
	go srv.Serve(ln)
	defer srv.Close()

	c, err := NewClient("unix://" + sockPath)
	require.NoError(t, err)
	assert.Equal(t, "ok", c.Fetch(context.Background(), sampleRequest()))
}

func TestNewClientRejectsUnknownScheme(t *testing.T) {
	_, err := NewClient("ftp://example")
	assert.Error(t, err)
	_, err = NewClient("unix://")
	assert.Error(t, err)
}

func TestDefaultSessionIsGenerated(t *testing.T) {
	a, err := NewClient("http://localhost:1")
	require.NoError(t, err)
	b, err := NewClient("http://localhost:1")
	require.NoError(t, err)

	assert.NotEmpty(t, a.Session())
	assert.NotEqual(t, a.Session(), b.Session())
}
