package index

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

const (
	indexBatchSize = 32
	chunkLines     = 12
	chunkStride    = 8
	chunkMaxBytes  = 1200
	queueSize      = 64
)

// Snippet is a chunk of a document kept in the index. Text is already redacted.
type Snippet struct {
	File string
	Text string
}

type entry struct {
	snippet Snippet
	added   time.Time
}

type job struct {
	file string
	code string
}

// Indexer keeps an in-memory semantic index of code snippets from the
// documents the service completes in, so related code from other files can
// be offered to the model.
type Indexer struct {
	embedder    *Embedder
	maxSnippets int
	ttl         time.Duration

	mu       sync.RWMutex
	graph    *hnsw.Graph[string] // HNSW graph, keyed by snippet hash
	snippets map[string]entry    // hash -> redacted snippet

	queue     chan job
	stopCh    chan struct{}
	closeOnce sync.Once
	now       func() time.Time
}

// NewIndexer creates a snippet indexer.
// If embedder is nil, indexing and search are no-ops.
func NewIndexer(embedder *Embedder, maxSnippets int, ttl time.Duration) *Indexer {
	return &Indexer{
		embedder:    embedder,
		maxSnippets: maxSnippets,
		ttl:         ttl,
		graph:       hnsw.NewGraph[string](),
		snippets:    make(map[string]entry),
		queue:       make(chan job, queueSize),
		stopCh:      make(chan struct{}),
		now:         time.Now,
	}
}

// Enabled reports whether the indexer has an embedder.
func (idx *Indexer) Enabled() bool { return idx.embedder != nil }

// Len returns the number of indexed snippets.
func (idx *Indexer) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.snippets)
}

// Chunk splits code into overlapping windows of lines. Windows holding only
// whitespace are skipped and long windows are truncated.
func Chunk(fileName, code string) []Snippet {
	lines := strings.Split(code, "\n")
	var out []Snippet
	for start := 0; start < len(lines); start += chunkStride {
		end := min(start+chunkLines, len(lines))
		text := strings.Join(lines[start:end], "\n")
		if strings.TrimSpace(text) != "" {
			if len(text) > chunkMaxBytes {
				text = text[:chunkMaxBytes]
			}
			out = append(out, Snippet{File: fileName, Text: text})
		}
		if end == len(lines) {
			break
		}
	}
	return out
}

// Enqueue schedules a document for background indexing by Run. It never
// blocks and returns false when the queue is full or indexing is disabled.
func (idx *Indexer) Enqueue(fileName, code string) bool {
	if idx.embedder == nil {
		return false
	}
	select {
	case idx.queue <- job{file: fileName, code: code}:
		return true
	default:
		return false
	}
}

// IndexDocument chunks, redacts and embeds a document. Chunks already in the
// index are not embedded again.
func (idx *Indexer) IndexDocument(ctx context.Context, fileName, code string) error {
	if idx.embedder == nil {
		return nil
	}

	type pending struct {
		hash    string
		snippet Snippet
	}

	idx.mu.RLock()
	var toEmbed []pending
	seen := make(map[string]bool)
	for _, s := range Chunk(fileName, code) {
		s.Text = RedactCode(fileName, s.Text)
		hash := hashSnippet(s)
		if seen[hash] {
			continue
		}
		seen[hash] = true
		if _, exists := idx.snippets[hash]; !exists {
			toEmbed = append(toEmbed, pending{hash, s})
		}
	}
	idx.mu.RUnlock()

	if len(toEmbed) == 0 {
		return nil
	}

	// Embed in batches via API, accumulating results locally
	var nodes []hnsw.Node[string]
	added := make(map[string]Snippet, len(toEmbed))
	var firstErr error

	for i := 0; i < len(toEmbed); i += indexBatchSize {
		batch := toEmbed[i:min(i+indexBatchSize, len(toEmbed))]
		texts := make([]string, len(batch))
		for j, p := range batch {
			texts[j] = p.snippet.Text
		}

		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			slog.Error("batch embed error", "file", fileName, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for j, p := range batch {
			nodes = append(nodes, hnsw.MakeNode(p.hash, vectors[j]))
			added[p.hash] = p.snippet
		}
	}

	if len(nodes) > 0 {
		now := idx.now()
		idx.mu.Lock()
		for _, n := range nodes {
			if _, exists := idx.snippets[n.Key]; exists {
				continue
			}
			idx.graph.Add(n)
			idx.snippets[n.Key] = entry{snippet: added[n.Key], added: now}
		}
		idx.evictLocked()
		idx.mu.Unlock()
		slog.Debug("indexed document", "file", fileName, "snippets", len(nodes))
	}

	return firstErr
}

// evictLocked drops the oldest snippets beyond maxSnippets.
func (idx *Indexer) evictLocked() {
	if idx.maxSnippets <= 0 || len(idx.snippets) <= idx.maxSnippets {
		return
	}
	keys := make([]string, 0, len(idx.snippets))
	for k := range idx.snippets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return idx.snippets[keys[i]].added.Before(idx.snippets[keys[j]].added)
	})
	for _, k := range keys[:len(keys)-idx.maxSnippets] {
		idx.removeLocked(k)
	}
}

func (idx *Indexer) removeLocked(key string) {
	idx.graph.Delete(key)
	delete(idx.snippets, key)
}

// Expire removes snippets older than the TTL and returns how many were removed.
func (idx *Indexer) Expire() int {
	if idx.ttl <= 0 {
		return 0
	}
	cutoff := idx.now().Add(-idx.ttl)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	removed := 0
	for k, e := range idx.snippets {
		if e.added.Before(cutoff) {
			idx.removeLocked(k)
			removed++
		}
	}
	return removed
}

// Run indexes enqueued documents and expires old snippets until Close is
// called. If the embedder is nil, it returns immediately.
func (idx *Indexer) Run() {
	if idx.embedder == nil {
		return
	}

	interval := idx.ttl / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-idx.stopCh
		cancel()
	}()

	for {
		select {
		case <-idx.stopCh:
			return
		case j := <-idx.queue:
			if err := idx.IndexDocument(ctx, j.file, j.code); err != nil {
				slog.Warn("indexing failed", "file", j.file, "error", err)
			}
		case <-ticker.C:
			if n := idx.Expire(); n > 0 {
				slog.Debug("expired snippets", "count", n)
			}
		}
	}
}

// SearchRelevant embeds the query and returns the topK most similar snippets.
// Snippets from the file named exclude are skipped.
func (idx *Indexer) SearchRelevant(ctx context.Context, query, exclude string, topK int) ([]Snippet, error) {
	if idx.embedder == nil || topK <= 0 || idx.Len() == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, RedactSecrets(query))
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil, nil
	}

	// Over-fetch so excluded snippets do not starve the result.
	neighbors := idx.graph.Search(queryVec, topK*3)
	out := make([]Snippet, 0, topK)
	for _, n := range neighbors {
		e, ok := idx.snippets[n.Key]
		if !ok || (exclude != "" && e.snippet.File == exclude) {
			continue
		}
		out = append(out, e.snippet)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// Close stops Run and releases resources held by the indexer.
func (idx *Indexer) Close() {
	idx.closeOnce.Do(func() {
		close(idx.stopCh)
	})
	if idx.embedder != nil {
		idx.embedder.Close()
	}
}

func hashSnippet(s Snippet) string {
	h := sha256.Sum256([]byte(s.File + "\x00" + s.Text))
	return fmt.Sprintf("%x", h)
}
