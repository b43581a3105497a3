package generate

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/Paranoid-AF/ghostline"
	"github.com/Paranoid-AF/ghostline/index"
)

const (
	// relatedSnippets is the number of snippets from other files per request.
	relatedSnippets = 3
	// searchTimeout bounds the embedding lookup so it never dominates latency.
	searchTimeout = 2 * time.Second
)

// Info holds gathered context for a suggestion request.
type Info struct {
	Related []index.Snippet
}

// Gatherer collects cross-file context for suggestion requests.
type Gatherer struct {
	indexer   *index.Indexer
	cachePath string
}

// NewGatherer creates a new context gatherer.
// embedder may be nil to disable semantic features.
func NewGatherer(embedder *index.Embedder, cfg *ghostline.Config) *Gatherer {
	maxSnippets := 0
	ttlMinutes := 0
	if cfg != nil {
		maxSnippets = cfg.Embedding.MaxSnippets
		ttlMinutes = cfg.Embedding.TTLMinutes
	}
	if maxSnippets == 0 {
		maxSnippets = 2000
	}
	if ttlMinutes == 0 {
		ttlMinutes = 60
	}

	g := &Gatherer{
		indexer:   index.NewIndexer(embedder, maxSnippets, time.Duration(ttlMinutes)*time.Minute),
		cachePath: ghostline.IndexCachePath(),
	}

	if embedder != nil {
		if err := g.indexer.LoadCache(g.cachePath, embedder.Model()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to load index cache", "path", g.cachePath, "error", err)
		}
		go g.indexer.Run()
	}

	return g
}

// Observe schedules the request's document for indexing.
func (g *Gatherer) Observe(req *ghostline.Request) {
	if req.FileName == "" {
		return
	}
	if !g.indexer.Enqueue(req.FileName, req.Code) && g.indexer.Enabled() {
		slog.Debug("index queue full, skipping document", "file", req.FileName)
	}
}

// Gather collects context based on the suggestion request. Snippets from
// the request's own file are never returned since the model already sees it.
func (g *Gatherer) Gather(ctx context.Context, req *ghostline.Request) *Info {
	info := &Info{}
	if !g.indexer.Enabled() {
		return info
	}

	query := req.CurrentLine
	if req.PreviousLines != "" {
		query = req.PreviousLines + "\n" + query
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	snippets, err := g.indexer.SearchRelevant(ctx, query, req.FileName, relatedSnippets)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("related snippet search failed", "error", err)
		}
		return info
	}
	info.Related = snippets
	return info
}

// Close persists the index and releases resources held by the gatherer.
func (g *Gatherer) Close() {
	if model := g.indexer.EmbeddingModel(); model != "" && g.indexer.Len() > 0 {
		if err := g.indexer.SaveCache(g.cachePath, model); err != nil {
			slog.Warn("failed to save index cache", "path", g.cachePath, "error", err)
		}
	}
	g.indexer.Close()
}
