package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ticket-triage/internal/models"
)

// ErrNotFound is returned when a referenced row does not exist. The pipeline
// treats it as a permanent job failure.
var ErrNotFound = errors.New("row not found")

// Store wraps the bun connection with the typed queries the pipeline needs.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DocumentByURL(ctx context.Context, url string) (*Document, error) {
	doc := new(Document)
	err := s.db.NewSelect().Model(doc).Where("url = ?", url).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select document by url: %w", err)
	}
	return doc, nil
}

// UpsertDocument inserts the document or, when the URL already exists,
// replaces its content, hash and metadata. The document ID is filled in
// either way.
func (s *Store) UpsertDocument(ctx context.Context, doc *Document) error {
	doc.UpdatedAt = time.Now()
	_, err := s.db.NewInsert().
		Model(doc).
		On("CONFLICT (url) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("content = EXCLUDED.content").
		Set("content_hash = EXCLUDED.content_hash").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (s *Store) DeleteChunksByDocument(ctx context.Context, documentID int64) error {
	_, err := s.db.NewDelete().
		Model((*DocumentChunk)(nil)).
		Where("document_id = ?", documentID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete chunks for document %d: %w", documentID, err)
	}
	return nil
}

// InsertChunks stores the chunks and fills in their generated IDs.
func (s *Store) InsertChunks(ctx context.Context, chunks []*DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&chunks).Returning("id").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return nil
}

func (s *Store) ChunkContent(ctx context.Context, id int64) (string, error) {
	var content string
	err := s.db.NewSelect().
		Model((*DocumentChunk)(nil)).
		Column("chunk_content").
		Where("id = ?", id).
		Scan(ctx, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("select chunk content: %w", err)
	}
	return content, nil
}

func (s *Store) UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	res, err := s.db.NewUpdate().
		Model((*DocumentChunk)(nil)).
		Set("embedding = ?", vec).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update chunk embedding: %w", err)
	}
	return requireAffected(res)
}

// ChunkPage is a chunk joined with its document's title, the unit indexed
// for documentation retrieval.
type ChunkPage struct {
	ChunkID   int64           `bun:"chunk_id"`
	SourceURL string          `bun:"source_url"`
	Title     string          `bun:"title"`
	Content   string          `bun:"chunk_content"`
	Embedding pgvector.Vector `bun:"embedding"`
}

// ChunksWithEmbeddings returns every chunk that already has an embedding,
// joined with its document title.
func (s *Store) ChunksWithEmbeddings(ctx context.Context) ([]ChunkPage, error) {
	var pages []ChunkPage
	err := s.db.NewSelect().
		Model((*DocumentChunk)(nil)).
		ColumnExpr("dc.id AS chunk_id, dc.source_url, dc.chunk_content, dc.embedding, d.title").
		Join("JOIN documents AS d ON d.id = dc.document_id").
		Where("dc.embedding IS NOT NULL").
		Scan(ctx, &pages)
	if err != nil {
		return nil, fmt.Errorf("select chunks with embeddings: %w", err)
	}
	return pages, nil
}

func (s *Store) InsertTicket(ctx context.Context, ticket *Ticket) error {
	_, err := s.db.NewInsert().Model(ticket).Returning("id").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *Store) Ticket(ctx context.Context, id int64) (*Ticket, error) {
	ticket := new(Ticket)
	err := s.db.NewSelect().Model(ticket).Where("t.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select ticket: %w", err)
	}
	return ticket, nil
}

// TicketContent returns the combined subject+description text used for
// embedding and classification.
func (s *Store) TicketContent(ctx context.Context, id int64) (string, error) {
	ticket, err := s.Ticket(ctx, id)
	if err != nil {
		return "", err
	}
	return ticket.Subject + "\n\n" + ticket.Description, nil
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.NewUpdate().
		Model((*Ticket)(nil)).
		Set("status = ?", status).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket status: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) UpdateTicketEmbedding(ctx context.Context, id int64, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	res, err := s.db.NewUpdate().
		Model((*Ticket)(nil)).
		Set("embedding = ?", vec).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket embedding: %w", err)
	}
	return requireAffected(res)
}

// UpdateTicketClassification writes the classification fields and moves the
// ticket to the classified status in one statement.
func (s *Store) UpdateTicketClassification(ctx context.Context, id int64, cls models.Classification) error {
	now := time.Now()
	res, err := s.db.NewUpdate().
		Model((*Ticket)(nil)).
		Set("topic_tags = ?", pgdialectArray(cls.TopicTags)).
		Set("sentiment = ?", nullableString(cls.Sentiment)).
		Set("ai_priority = ?", nullableString(cls.Priority)).
		Set("classification_confidence = ?", cls.Confidence).
		Set("status = ?", models.TicketStatusClassified).
		Set("classification_completed_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update ticket classification: %w", err)
	}
	return requireAffected(res)
}

// TicketsWithEmbeddings returns classified prior tickets carrying an
// embedding, excluding the ticket being classified.
func (s *Store) TicketsWithEmbeddings(ctx context.Context, excludeID int64) ([]Ticket, error) {
	var tickets []Ticket
	err := s.db.NewSelect().
		Model(&tickets).
		Column("t.id", "t.ticket_number", "t.subject", "t.description", "t.embedding").
		Where("t.embedding IS NOT NULL").
		Where("t.id != ?", excludeID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select tickets with embeddings: %w", err)
	}
	return tickets, nil
}

func (s *Store) ReferenceEmbeddings(ctx context.Context) ([]ReferenceEmbedding, error) {
	var refs []ReferenceEmbedding
	err := s.db.NewSelect().
		Model(&refs).
		Where("category IN (?)", bun.In([]string{
			models.CategoryTopic, models.CategorySentiment, models.CategoryPriority,
		})).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("select reference embeddings: %w", err)
	}
	return refs, nil
}

func (s *Store) UpsertReferenceEmbedding(ctx context.Context, ref *ReferenceEmbedding) error {
	_, err := s.db.NewInsert().
		Model(ref).
		On("CONFLICT (category, label) DO UPDATE").
		Set("embedding = EXCLUDED.embedding").
		Set("metadata = EXCLUDED.metadata").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert reference embedding: %w", err)
	}
	return nil
}

func (s *Store) InsertAIResponse(ctx context.Context, resp *AIResponse) error {
	_, err := s.db.NewInsert().Model(resp).Returning("id").Exec(ctx)
	if err != nil {
		return fmt.Errorf("insert ai response: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgdialectArray(tags []string) interface{} {
	if tags == nil {
		tags = []string{}
	}
	return pgdialect.Array(tags)
}
