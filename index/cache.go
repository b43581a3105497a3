package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/coder/hnsw"
)

type cacheFile struct {
	Model   string       `json:"model"`
	Entries []cacheEntry `json:"entries"`
}

type cacheEntry struct {
	Hash      string    `json:"hash"`
	File      string    `json:"file"`
	Text      string    `json:"text"`
	Added     time.Time `json:"added"`
	Embedding []float32 `json:"embedding"`
}

// EmbeddingModel returns the model name used by the embedder, or empty if disabled.
func (idx *Indexer) EmbeddingModel() string {
	if idx.embedder == nil {
		return ""
	}
	return idx.embedder.Model()
}

// SaveCache writes the current index (snippets + embeddings) to disk.
func (idx *Indexer) SaveCache(path string, model string) error {
	idx.mu.RLock()
	entries := make([]cacheEntry, 0, len(idx.snippets))
	for hash, e := range idx.snippets {
		vec, ok := idx.graph.Lookup(hash)
		if !ok {
			continue
		}
		entries = append(entries, cacheEntry{
			Hash:      hash,
			File:      e.snippet.File,
			Text:      e.snippet.Text,
			Added:     e.added,
			Embedding: vec,
		})
	}
	idx.mu.RUnlock()

	data, err := json.Marshal(cacheFile{
		Model:   model,
		Entries: entries,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadCache loads a previously saved index from disk.
// If the model doesn't match, the cache is silently skipped. Entries older
// than the TTL are dropped.
func (idx *Indexer) LoadCache(path string, model string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cf cacheFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return err
	}

	if cf.Model != model {
		return nil
	}

	var cutoff time.Time
	if idx.ttl > 0 {
		cutoff = idx.now().Add(-idx.ttl)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, e := range cf.Entries {
		if len(e.Embedding) == 0 || e.Added.Before(cutoff) {
			continue
		}
		if _, exists := idx.snippets[e.Hash]; exists {
			continue
		}
		idx.graph.Add(hnsw.MakeNode(e.Hash, e.Embedding))
		idx.snippets[e.Hash] = entry{snippet: Snippet{File: e.File, Text: e.Text}, added: e.Added}
	}
	idx.evictLocked()

	return nil
}
