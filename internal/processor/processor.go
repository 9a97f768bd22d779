package processor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ticket-triage/internal/db"
	"ticket-triage/internal/models"
	"ticket-triage/internal/queue"
)

// DocumentStore is the slice of the database layer the processor writes to.
type DocumentStore interface {
	DocumentByURL(ctx context.Context, url string) (*db.Document, error)
	UpsertDocument(ctx context.Context, doc *db.Document) error
	DeleteChunksByDocument(ctx context.Context, documentID int64) error
	InsertChunks(ctx context.Context, chunks []*db.DocumentChunk) error
}

// Processor turns scraped documents into stored chunks and enqueues an
// embedding job for each chunk.
type Processor struct {
	store        DocumentStore
	queue        queue.Queue
	chunkSize    int
	chunkOverlap int
	log          zerolog.Logger
}

func NewProcessor(store DocumentStore, q queue.Queue, chunkSize, chunkOverlap int, log zerolog.Logger) *Processor {
	return &Processor{
		store:        store,
		queue:        q,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		log:          log,
	}
}

// ProcessDocuments stores each document, skipping those whose content is
// unchanged since the last run. Changed documents have their old chunks
// replaced before the new ones are enqueued for embedding.
func (p *Processor) ProcessDocuments(ctx context.Context, docs []models.ScrapedDocument) (models.ScrapeSummary, error) {
	summary := models.ScrapeSummary{DocumentsScraped: len(docs)}

	for _, doc := range docs {
		chunks, err := p.processOne(ctx, doc)
		if err != nil {
			p.log.Error().Err(err).Str("url", doc.URL).Msg("failed to process document")
			continue
		}
		if chunks < 0 {
			summary.DocumentsSkipped++
			continue
		}
		summary.DocumentsProcessed++
		summary.ChunksCreated += chunks
	}

	return summary, nil
}

// processOne returns the number of chunks created, or -1 when the document
// was skipped as unchanged.
func (p *Processor) processOne(ctx context.Context, doc models.ScrapedDocument) (int, error) {
	hash := ContentHash(doc.Content)

	existing, err := p.store.DocumentByURL(ctx, doc.URL)
	if err != nil {
		return 0, err
	}
	if existing != nil && existing.ContentHash == hash {
		p.log.Debug().Str("url", doc.URL).Msg("content unchanged, skipping")
		return -1, nil
	}

	row := &db.Document{
		URL:         doc.URL,
		Title:       doc.Title,
		Content:     doc.Content,
		ContentHash: hash,
		Metadata: db.DocumentMetadata{
			Headings:    doc.Headings,
			Breadcrumbs: doc.Breadcrumbs,
			Section:     doc.Section,
		},
	}
	if err := p.store.UpsertDocument(ctx, row); err != nil {
		return 0, err
	}

	// A changed document replaces its chunk set wholesale so no stale chunk
	// survives with outdated content.
	if existing != nil {
		if err := p.store.DeleteChunksByDocument(ctx, row.ID); err != nil {
			return 0, err
		}
	}

	chunks := ChunkDocument(doc.Content, doc.Headings, p.chunkSize, p.chunkOverlap)
	rows := make([]*db.DocumentChunk, 0, len(chunks))
	for _, c := range chunks {
		rows = append(rows, &db.DocumentChunk{
			DocumentID:     row.ID,
			ChunkContent:   c.Content,
			ChunkIndex:     c.Index,
			SectionHeading: c.Heading,
			SourceURL:      doc.URL,
			Metadata:       db.ChunkMetadata{WordCount: wordCount(c.Content)},
		})
	}
	if err := p.store.InsertChunks(ctx, rows); err != nil {
		return 0, err
	}

	for _, r := range rows {
		job := models.EmbeddingJob{
			ID:              r.ID,
			Schema:          models.SchemaPublic,
			Table:           models.TableDocumentChunks,
			EmbeddingColumn: models.ColumnEmbedding,
		}
		if _, err := p.queue.Send(ctx, models.QueueEmbeddings, job); err != nil {
			return 0, fmt.Errorf("enqueue embedding job for chunk %d: %w", r.ID, err)
		}
	}

	p.log.Info().Str("url", doc.URL).Int("chunks", len(rows)).Msg("document processed")
	return len(rows), nil
}

func wordCount(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch r {
		case ' ', '\n', '\t', '\r':
			inWord = false
		default:
			if !inWord {
				n++
			}
			inWord = true
		}
	}
	return n
}
