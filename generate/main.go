// Package generate orchestrates model inference to produce inline code suggestions.
package generate

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/jellydator/ttlcache/v3"

	"github.com/Paranoid-AF/ghostline"
	defaults "github.com/Paranoid-AF/ghostline/default"
	"github.com/Paranoid-AF/ghostline/index"
)

const (
	// DefaultMaxLines caps a suggestion when the config does not.
	DefaultMaxLines = 12
	// defaultCacheTTL is used when service.cache_ttl_seconds is unset.
	defaultCacheTTL = 2 * time.Minute
	// contextBytes bounds the document text sent on each side of the cursor.
	contextBytes = 4000
	// cursorMarker marks the insertion point in the user message.
	cursorMarker = "<CURSOR>"
)

// Engine orchestrates context gathering and model inference for suggestions.
type Engine struct {
	gatherer     *Gatherer
	generator    *Generator
	dirCache     *DirCache
	results      *ttlcache.Cache[string, string]
	config       *ghostline.Config
	customPrompt string // loaded custom prompt template (empty = use default)
	workspace    string
	maxLines     int
}

// NewEngine creates an engine from the user's config file.
func NewEngine() *Engine {
	cfg, err := ghostline.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = ghostline.DefaultConfig()
	}
	return NewEngineWithConfig(cfg)
}

// NewEngineWithConfig creates an engine for cfg.
func NewEngineWithConfig(cfg *ghostline.Config) *Engine {
	customPrompt := loadCustomPrompt()
	if customPrompt == "" {
		slog.Debug("no custom prompt, using built-in default")
	}

	// Create embedder if embedding is configured
	var embedder *index.Embedder
	if ghostline.EmbeddingEnabled(cfg) {
		embedder = index.NewEmbedder(
			ghostline.ResolveEmbeddingBaseURL(cfg),
			ghostline.ResolveEmbeddingAPIKey(cfg),
			ghostline.ResolveEmbeddingModel(cfg),
			cfg.Embedding.Dimensions,
		)
	}

	// Create generator if API key is available
	var gen *Generator
	if apiKey := ghostline.ResolveGenerationAPIKey(cfg); apiKey != "" {
		gen = NewGenerator(
			ghostline.ResolveGenerationBaseURL(cfg),
			apiKey,
			ghostline.ResolveGenerationModel(cfg),
			cfg.Generation.APIType,
			cfg.Generation.MaxTokens,
			cfg.Generation.Temperature,
			cfg.Generation.Stop,
			ghostline.OpenRouterTelemetryEnabled(cfg),
		)
	} else {
		slog.Warn("generation API key not configured")
	}

	ttl := defaultCacheTTL
	if cfg.Service.CacheTTLSeconds > 0 {
		ttl = time.Duration(cfg.Service.CacheTTLSeconds) * time.Second
	}
	results := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
		ttlcache.WithCapacity[string, string](512),
	)
	go results.Start()

	maxLines := cfg.Service.MaxSuggestionLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	workspace := cfg.Service.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}

	return &Engine{
		gatherer:     NewGatherer(embedder, cfg),
		generator:    gen,
		dirCache:     NewDirCache(),
		results:      results,
		config:       cfg,
		customPrompt: customPrompt,
		workspace:    workspace,
		maxLines:     maxLines,
	}
}

// loadCustomPrompt loads a custom prompt template.
// Returns empty string if no custom prompt exists.
func loadCustomPrompt() string {
	promptPath := ghostline.PromptPath()
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return ""
	}
	slog.Info("loaded custom prompt", "path", promptPath)
	return string(data)
}

// Close releases resources held by the engine.
func (e *Engine) Close() {
	if e.generator != nil {
		e.generator.Close()
	}
	if e.gatherer != nil {
		e.gatherer.Close()
	}
	if e.dirCache != nil {
		e.dirCache.Close()
	}
	if e.results != nil {
		e.results.Stop()
	}
}

// WarmContext pre-populates the workspace context cache for dir.
func (e *Engine) WarmContext(ctx context.Context, dir string) {
	e.dirCache.Gather(ctx, dir)
}

// Complete processes a suggestion request and returns a response.
func (e *Engine) Complete(ctx context.Context, req *ghostline.Request) *ghostline.Response {
	if e.generator == nil {
		return &ghostline.Response{
			Error: &ghostline.Error{
				Code:    "not_configured",
				Message: "generation API key not configured; set GHOSTLINE_GENERATION_API_KEY or edit " + ghostline.ConfigPath(),
			},
		}
	}

	if strings.TrimSpace(req.Code) == "" {
		return &ghostline.Response{}
	}

	key := cacheKey(req)
	if item := e.results.Get(key); item != nil {
		slog.Debug("suggestion cache hit", "file", req.FileName, "line", req.LineNumber)
		return &ghostline.Response{Suggestion: item.Value()}
	}

	e.gatherer.Observe(req)
	info := e.gatherer.Gather(ctx, req)

	var dirCtx *DirContext
	if e.workspace != "" {
		dirCtx = e.dirCache.Get(e.workspace)
		if dirCtx == nil {
			go e.dirCache.Gather(context.Background(), e.workspace)
		}
	}

	// Check for cancellation before expensive inference
	if ctx.Err() != nil {
		return &ghostline.Response{}
	}

	systemPrompt := e.buildSystemPrompt(req.FileName)
	userMessage := e.buildUserMessage(req, info, dirCtx)

	slog.Debug("prompt", "system", systemPrompt, "user", userMessage)

	output, err := e.generator.Generate(ctx, systemPrompt, userMessage)
	if err != nil {
		if ctx.Err() != nil {
			return &ghostline.Response{}
		}
		slog.Error("generation error", "error", err)
		return &ghostline.Response{
			Error: &ghostline.Error{
				Code:    "api_error",
				Message: err.Error(),
			},
		}
	}

	suggestion := cleanSuggestion(output, req, e.maxLines)
	e.results.Set(key, suggestion, ttlcache.DefaultTTL)
	return &ghostline.Response{Suggestion: suggestion}
}

// cacheKey identifies a request by the text around the cursor.
func cacheKey(req *ghostline.Request) string {
	h := sha256.New()
	for _, s := range []string{req.FileName, req.PreviousLines, req.TextBeforeCursor, req.TextAfterCursor, req.NextLines} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// PromptData holds the data passed to the prompt template.
type PromptData struct {
	MaxLines int
	Language string
	FileName string
}

var promptFuncs = template.FuncMap{
	"bullet": func(items []string) string {
		if len(items) == 0 {
			return ""
		}
		var sb strings.Builder
		for _, item := range items {
			sb.WriteString("- ")
			sb.WriteString(item)
			sb.WriteString("\n")
		}
		return strings.TrimSuffix(sb.String(), "\n")
	},
}

func parsePrompt(src string) (*template.Template, error) {
	return template.New("prompt").Funcs(sprig.TxtFuncMap()).Funcs(promptFuncs).Parse(src)
}

// buildSystemPrompt renders the system prompt from the template.
func (e *Engine) buildSystemPrompt(fileName string) string {
	tmplSrc := e.customPrompt
	if tmplSrc == "" {
		tmplSrc = defaults.DefaultPrompt
	}

	maxLines := e.maxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	data := PromptData{
		MaxLines: maxLines,
		Language: languageFor(fileName),
		FileName: filepath.Base(fileName),
	}

	t, err := parsePrompt(tmplSrc)
	if err != nil {
		slog.Warn("failed to parse prompt template, falling back to default", "error", err)
		t, _ = parsePrompt(defaults.DefaultPrompt)
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		slog.Warn("failed to execute prompt template, falling back to default", "error", err)
		t, _ = parsePrompt(defaults.DefaultPrompt)
		buf.Reset()
		t.Execute(&buf, data)
	}

	return strings.TrimRight(buf.String(), " \t\n")
}

// buildUserMessage constructs the user message from context and the request.
func (e *Engine) buildUserMessage(req *ghostline.Request, info *Info, dirCtx *DirContext) string {
	var sb strings.Builder

	if req.FileName != "" {
		sb.WriteString("file: ")
		sb.WriteString(req.FileName)
		sb.WriteString("\n")
	}

	if dirCtx != nil {
		if dirCtx.Listing != "" {
			sb.WriteString("project files: ")
			sb.WriteString(dirCtx.Listing)
			sb.WriteString("\n")
		}
		if dirCtx.PackageManager != "" {
			sb.WriteString("pkg: ")
			sb.WriteString(dirCtx.PackageManager)
			sb.WriteString("\n")
		}
		for _, name := range sortedKeys(dirCtx.Manifests) {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(dirCtx.Manifests[name])
			sb.WriteString("\n")
		}
	}

	if info != nil {
		for _, s := range info.Related {
			sb.WriteString("\nrelated code from ")
			sb.WriteString(s.File)
			sb.WriteString(":\n")
			sb.WriteString(s.Text)
			sb.WriteString("\n")
		}
	}

	before, after := codeAround(req)
	sb.WriteString("\nInsert text at ")
	sb.WriteString(cursorMarker)
	sb.WriteString(":\n")
	sb.WriteString(before)
	sb.WriteString(cursorMarker)
	sb.WriteString(after)

	return sb.String()
}

// codeAround returns the document text before and after the cursor, each
// bounded to contextBytes. When the line number does not match the document
// it falls back to the context lines of the request.
func codeAround(req *ghostline.Request) (before, after string) {
	lines := strings.Split(req.Code, "\n")
	n := req.LineNumber
	if n < 1 || n > len(lines) || lines[n-1] != req.CurrentLine {
		before = req.TextBeforeCursor
		if req.PreviousLines != "" {
			before = req.PreviousLines + "\n" + before
		}
		after = req.TextAfterCursor
		if req.NextLines != "" {
			after += "\n" + req.NextLines
		}
		return before, after
	}

	before = strings.Join(lines[:n-1], "\n")
	if n > 1 {
		before += "\n"
	}
	before += req.TextBeforeCursor

	after = req.TextAfterCursor
	if n < len(lines) {
		after += "\n" + strings.Join(lines[n:], "\n")
	}

	if len(before) > contextBytes {
		before = before[len(before)-contextBytes:]
	}
	if len(after) > contextBytes {
		after = after[:contextBytes]
	}
	return before, after
}

var languages = map[string]string{
	".go": "Go", ".js": "JavaScript", ".jsx": "JavaScript (JSX)", ".mjs": "JavaScript",
	".ts": "TypeScript", ".tsx": "TypeScript (TSX)", ".py": "Python", ".rs": "Rust",
	".rb": "Ruby", ".java": "Java", ".kt": "Kotlin", ".c": "C", ".h": "C",
	".cc": "C++", ".cpp": "C++", ".hpp": "C++", ".cs": "C#", ".swift": "Swift",
	".php": "PHP", ".sh": "shell", ".bash": "bash", ".zsh": "zsh", ".lua": "Lua",
	".sql": "SQL", ".html": "HTML", ".css": "CSS", ".scss": "SCSS", ".md": "Markdown",
	".json": "JSON", ".yaml": "YAML", ".yml": "YAML", ".toml": "TOML",
}

// languageFor guesses the language of fileName from its extension.
func languageFor(fileName string) string {
	return languages[strings.ToLower(filepath.Ext(fileName))]
}
