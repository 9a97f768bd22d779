package docindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"ticket-triage/internal/db"
	"ticket-triage/internal/models"
)

const collectionName = "doc-chunks"

// Index is an in-memory vector index over embedded documentation chunks,
// rebuilt from the database for each classification batch.
type Index struct {
	collection *chromem.Collection
}

func New() (*Index, error) {
	store := chromem.NewDB()
	// Embeddings are precomputed by the pipeline, so the collection never
	// calls an embedding function.
	collection, err := store.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &Index{collection: collection}, nil
}

// Add indexes the given chunk pages. Pages without an embedding are skipped.
func (ix *Index) Add(ctx context.Context, pages []db.ChunkPage) error {
	docs := make([]chromem.Document, 0, len(pages))
	for _, p := range pages {
		emb := p.Embedding.Slice()
		if len(emb) == 0 {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.FormatInt(p.ChunkID, 10),
			Content:   p.Content,
			Embedding: emb,
			Metadata: map[string]string{
				"title": p.Title,
				"url":   p.SourceURL,
			},
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := ix.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	return nil
}

// Query returns up to k documentation sources scoring above the threshold,
// best first.
func (ix *Index) Query(ctx context.Context, embedding []float32, k int, threshold float64) ([]models.Source, error) {
	n := k
	if count := ix.collection.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	results, err := ix.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	var sources []models.Source
	for _, r := range results {
		score := float64(r.Similarity)
		if score <= threshold {
			continue
		}
		sources = append(sources, models.Source{
			Title:   r.Metadata["title"],
			URL:     r.Metadata["url"],
			Snippet: snippet(r.Content, 200),
			Score:   score,
		})
	}
	return sources, nil
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
