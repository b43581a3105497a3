package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/index"
)

// testEngine creates a minimal engine for testing. gen may be nil.
func testEngine(t *testing.T, gen *Generator) *Engine {
	t.Helper()
	t.Setenv("GHOSTLINE_CONFIG_DIR", t.TempDir())
	results := ttlcache.New[string, string](ttlcache.WithTTL[string, string](time.Minute))
	go results.Start()
	e := &Engine{
		gatherer:  NewGatherer(nil, nil),
		generator: gen,
		dirCache:  NewDirCache(),
		results:   results,
		config:    ghostline.DefaultConfig(),
		maxLines:  DefaultMaxLines,
	}
	t.Cleanup(e.Close)
	return e
}

// chatServer replies to chat completion requests with reply and counts calls.
func chatServer(t *testing.T, reply string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization %q", got)
		}
		var req chatCompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, cursorMarker) {
			t.Errorf("expected system and user messages with cursor marker, got %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(chatCompletionsResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testGenerator(url string) *Generator {
	return NewGenerator(url, "test-key", "test-model", "chat_completions", 64, 0, nil, false)
}

func funcRequest() *ghostline.Request {
	return &ghostline.Request{
		FileName:         "main.js",
		Code:             "func",
		CurrentLine:      "func",
		TextBeforeCursor: "func",
		LineNumber:       1,
	}
}

func TestCompleteNotConfigured(t *testing.T) {
	e := testEngine(t, nil)
	resp := e.Complete(context.Background(), funcRequest())

	if resp.Suggestion != "" {
		t.Errorf("expected no suggestion, got %q", resp.Suggestion)
	}
	if resp.Error == nil || resp.Error.Code != "not_configured" {
		t.Errorf("expected not_configured error, got %+v", resp.Error)
	}
}

func TestCompleteBlankCodeSkipsModel(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "unused", &calls)
	e := testEngine(t, testGenerator(srv.URL))

	resp := e.Complete(context.Background(), &ghostline.Request{Code: " \n\t", CurrentLine: " ", LineNumber: 1})
	if resp.Suggestion != "" || resp.Error != nil {
		t.Errorf("expected empty response, got %+v", resp)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no model call, got %d", calls.Load())
	}
}

func TestCompleteStripsEchoedPrefix(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "function() {}", &calls)
	e := testEngine(t, testGenerator(srv.URL))

	resp := e.Complete(context.Background(), funcRequest())
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.Suggestion != "tion() {}" {
		t.Errorf("expected %q, got %q", "tion() {}", resp.Suggestion)
	}
}

func TestCompleteCachesResult(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "tion() {}", &calls)
	e := testEngine(t, testGenerator(srv.URL))

	first := e.Complete(context.Background(), funcRequest())
	second := e.Complete(context.Background(), funcRequest())

	if first.Suggestion != second.Suggestion {
		t.Errorf("expected identical suggestions, got %q and %q", first.Suggestion, second.Suggestion)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 model call, got %d", calls.Load())
	}

	other := funcRequest()
	other.TextAfterCursor = ")"
	other.CurrentLine = "func)"
	other.Code = "func)"
	e.Complete(context.Background(), other)
	if calls.Load() != 2 {
		t.Errorf("expected a different request to miss the cache, got %d calls", calls.Load())
	}
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()
	e := testEngine(t, testGenerator(srv.URL))

	resp := e.Complete(context.Background(), funcRequest())
	if resp.Error == nil || resp.Error.Code != "api_error" {
		t.Fatalf("expected api_error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "429") {
		t.Errorf("expected status in message, got %q", resp.Error.Message)
	}
}

func TestCompleteCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, "tion() {}", &calls)
	e := testEngine(t, testGenerator(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := e.Complete(ctx, funcRequest())

	if resp.Suggestion != "" || resp.Error != nil {
		t.Errorf("expected empty response for cancelled request, got %+v", resp)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no model call, got %d", calls.Load())
	}
}

func TestGenerateResponsesAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Title"); !strings.HasPrefix(got, "Ghostline") {
			t.Errorf("expected telemetry title, got %q", got)
		}
		json.NewEncoder(w).Encode(responsesResponse{
			Output: []responsesOutput{
				{Type: "reasoning"},
				{Type: "message", Content: []responsesContent{{Type: "output_text", Text: "x := 1"}}},
			},
		})
	}))
	defer srv.Close()

	g := NewGenerator(srv.URL, "", "m", "responses", 0, 0, nil, true)
	got, err := g.Generate(context.Background(), "sys", "user")
	if err != nil {
		t.Fatal(err)
	}
	if got != "x := 1" {
		t.Errorf("expected %q, got %q", "x := 1", got)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testGenerator(srv.URL).Generate(context.Background(), "sys", "user")
	if err != ErrNoContent {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestBuildSystemPromptContent(t *testing.T) {
	e := testEngine(t, nil)
	prompt := e.buildSystemPrompt("src/main.go")

	if !strings.Contains(prompt, "inline code completion") {
		t.Error("system prompt should describe inline code completion")
	}
	if !strings.Contains(prompt, "12 lines") {
		t.Errorf("system prompt should carry the line limit, got %q", prompt)
	}
	if !strings.Contains(prompt, "written in Go") {
		t.Errorf("system prompt should name the language, got %q", prompt)
	}

	if strings.Contains(e.buildSystemPrompt("notes"), "written in") {
		t.Error("system prompt should omit the language when unknown")
	}
}

func TestBuildSystemPromptCustomTemplate(t *testing.T) {
	e := testEngine(t, nil)
	e.customPrompt = `{{ .Language | upper }} {{ .FileName }} {{ .MaxLines }}`

	if got := e.buildSystemPrompt("web/app.ts"); got != "TYPESCRIPT app.ts 12" {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestBuildSystemPromptInvalidTemplateFallsBack(t *testing.T) {
	e := testEngine(t, nil)
	e.customPrompt = `{{ .Broken `

	if got := e.buildSystemPrompt("a.go"); !strings.Contains(got, "inline code completion") {
		t.Errorf("expected default prompt, got %q", got)
	}
}

func TestBuildUserMessage(t *testing.T) {
	e := testEngine(t, nil)
	req := &ghostline.Request{
		FileName:         "app.js",
		Code:             "const a = 1;\nconst b = a +\nexport { b };",
		CurrentLine:      "const b = a +",
		PreviousLines:    "const a = 1;",
		TextBeforeCursor: "const b = a +",
		NextLines:        "export { b };",
		LineNumber:       2,
	}
	info := &Info{Related: []index.Snippet{{File: "util.js", Text: "export const two = 2;"}}}
	dirCtx := &DirContext{
		Listing:        "src/ package.json",
		PackageManager: "pnpm",
		Manifests:      map[string]string{"package.json dependencies": "react"},
	}

	msg := e.buildUserMessage(req, info, dirCtx)
	for _, want := range []string{
		"file: app.js",
		"project files: src/ package.json",
		"pkg: pnpm",
		"package.json dependencies: react",
		"related code from util.js:\nexport const two = 2;",
		"const a = 1;\nconst b = a +" + cursorMarker + "\nexport { b };",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message:\n%s", want, msg)
		}
	}
}

func TestBuildUserMessageMinimal(t *testing.T) {
	e := testEngine(t, nil)
	msg := e.buildUserMessage(funcRequest(), &Info{}, nil)

	if strings.Contains(msg, "pkg:") || strings.Contains(msg, "related code") {
		t.Errorf("expected no workspace or related context, got:\n%s", msg)
	}
	if !strings.HasSuffix(msg, "func"+cursorMarker) {
		t.Errorf("expected message to end at the cursor, got:\n%s", msg)
	}
}

func TestCodeAroundFallsBackToContextLines(t *testing.T) {
	req := &ghostline.Request{
		Code:             "stale",
		CurrentLine:      "b()",
		PreviousLines:    "a()",
		TextBeforeCursor: "b(",
		TextAfterCursor:  ")",
		NextLines:        "c()",
		LineNumber:       7,
	}
	before, after := codeAround(req)
	if before != "a()\nb(" {
		t.Errorf("unexpected before %q", before)
	}
	if after != ")\nc()" {
		t.Errorf("unexpected after %q", after)
	}
}

func TestCodeAroundBoundsContext(t *testing.T) {
	head := strings.Repeat("x\n", contextBytes)
	tail := strings.Repeat("\ny", contextBytes)
	req := &ghostline.Request{
		Code:             head + "mid" + tail,
		CurrentLine:      "mid",
		TextBeforeCursor: "m",
		TextAfterCursor:  "id",
		LineNumber:       contextBytes + 1,
	}
	before, after := codeAround(req)
	if len(before) != contextBytes || !strings.HasSuffix(before, "\nm") {
		t.Errorf("unexpected before: len %d", len(before))
	}
	if len(after) != contextBytes || !strings.HasPrefix(after, "id\ny") {
		t.Errorf("unexpected after: len %d", len(after))
	}
}

func TestCleanSuggestion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		before string
		after  string
		max    int
		want   string
	}{
		{"plain", "tion() {}", "func", "", 12, "tion() {}"},
		{"echoed prefix", "function() {}", "func", "", 12, "tion() {}"},
		{"echo without indent", "return x", "    ret", "", 12, "urn x"},
		{"code fence", "```js\ntion() {}\n```", "func", "", 12, "tion() {}"},
		{"fence with echo", "Here:\n```\nfunction() {}\n```\n", "func", "", 12, "tion() {}"},
		{"overlap with after", "a, b)", "f(", ")", 12, "a, b"},
		{"partial overlap", "x]);", "g([", "]);\n", 12, "x"},
		{"cursor marker", "foo" + cursorMarker, "", "", 12, "foo"},
		{"line cap", "a\nb\nc\nd", "", "", 2, "a\nb"},
		{"trailing whitespace", "x = 1\n\n", "", "", 12, "x = 1"},
		{"crlf", "a\r\nb", "", "", 12, "a\nb"},
		{"only echo", "func", "func", "", 12, ""},
		{"blank", "  \n ", "", "", 12, ""},
		{"unterminated fence", "```", "", "", 12, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ghostline.Request{TextBeforeCursor: tt.before, TextAfterCursor: tt.after}
			if got := cleanSuggestion(tt.output, req, tt.max); got != tt.want {
				t.Errorf("cleanSuggestion(%q) = %q, want %q", tt.output, got, tt.want)
			}
		})
	}
}

func TestCacheKeyDistinguishesFields(t *testing.T) {
	a := &ghostline.Request{TextBeforeCursor: "ab", TextAfterCursor: "c"}
	b := &ghostline.Request{TextBeforeCursor: "a", TextAfterCursor: "bc"}
	if cacheKey(a) == cacheKey(b) {
		t.Error("expected field boundaries to change the key")
	}
	if cacheKey(a) != cacheKey(&ghostline.Request{TextBeforeCursor: "ab", TextAfterCursor: "c"}) {
		t.Error("expected equal requests to share a key")
	}
}

func TestLanguageFor(t *testing.T) {
	cases := map[string]string{
		"main.go":        "Go",
		"App.TSX":        "TypeScript (TSX)",
		"script.py":      "Python",
		"Makefile":       "",
		"dir.d/file.unk": "",
	}
	for name, want := range cases {
		if got := languageFor(name); got != want {
			t.Errorf("languageFor(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestGathererWithoutEmbedding(t *testing.T) {
	t.Setenv("GHOSTLINE_CONFIG_DIR", t.TempDir())
	g := NewGatherer(nil, nil)
	defer g.Close()

	req := funcRequest()
	g.Observe(req)
	info := g.Gather(context.Background(), req)
	if info == nil {
		t.Fatal("expected non-nil info")
	}
	if len(info.Related) != 0 {
		t.Errorf("expected no related snippets, got %v", info.Related)
	}
}
