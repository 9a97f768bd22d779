package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"ticket-triage/internal/config"
	"ticket-triage/internal/models"
)

// Document is a scraped documentation page. The content hash is used to skip
// reprocessing when the page has not changed.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          int64            `bun:"id,pk,autoincrement"`
	URL         string           `bun:"url,notnull,unique"`
	Title       string           `bun:"title"`
	Content     string           `bun:"content,notnull"`
	ContentHash string           `bun:"content_hash,notnull"`
	Metadata    DocumentMetadata `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time        `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type DocumentMetadata struct {
	Headings    []string `json:"headings"`
	Breadcrumbs []string `json:"breadcrumbs"`
	Section     string   `json:"section"`
}

// DocumentChunk is owned exclusively by its Document and deleted en masse
// when the document is reprocessed. The embedding stays null until the
// embeddings queue worker fills it in.
type DocumentChunk struct {
	bun.BaseModel `bun:"table:document_chunks,alias:dc"`

	ID             int64            `bun:"id,pk,autoincrement"`
	DocumentID     int64            `bun:"document_id,notnull"`
	ChunkContent   string           `bun:"chunk_content,notnull"`
	ChunkIndex     int              `bun:"chunk_index,notnull"`
	SectionHeading string           `bun:"section_heading"`
	SourceURL      string           `bun:"source_url"`
	Embedding      *pgvector.Vector `bun:"embedding,type:vector(768)"`
	Metadata       ChunkMetadata    `bun:"metadata,type:jsonb"`
	CreatedAt      time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type ChunkMetadata struct {
	WordCount int `json:"word_count"`
}

// Ticket carries the classification fields written by the pipeline. Only
// those fields and the status transitions belong to this module; everything
// else is owned by the surrounding application.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID                        int64            `bun:"id,pk,autoincrement"`
	TicketNumber              string           `bun:"ticket_number,notnull,unique"`
	Subject                   string           `bun:"subject,notnull"`
	Description               string           `bun:"description"`
	Status                    string           `bun:"status,notnull,default:'pending'"`
	TopicTags                 []string         `bun:"topic_tags,array"`
	Sentiment                 string           `bun:"sentiment,nullzero"`
	AIPriority                string           `bun:"ai_priority,nullzero"`
	ClassificationConfidence  float64          `bun:"classification_confidence"`
	Embedding                 *pgvector.Vector `bun:"embedding,type:vector(768)"`
	ClassificationCompletedAt *time.Time       `bun:"classification_completed_at,nullzero"`
	CreatedAt                 time.Time        `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// ReferenceEmbedding is a precomputed vector for a fixed label, the anchor
// for nearest-neighbor classification. Seed data, read-only for the pipeline.
type ReferenceEmbedding struct {
	bun.BaseModel `bun:"table:reference_embeddings,alias:re"`

	ID        int64             `bun:"id,pk,autoincrement"`
	Category  string            `bun:"category,notnull"`
	Label     string            `bun:"label,notnull"`
	Embedding pgvector.Vector   `bun:"embedding,notnull,type:vector(768)"`
	Metadata  map[string]string `bun:"metadata,type:jsonb"`
}

// AIResponse is append-only: every classification run may add a new draft.
type AIResponse struct {
	bun.BaseModel `bun:"table:ai_responses,alias:ar"`

	ID                int64           `bun:"id,pk,autoincrement"`
	TicketID          int64           `bun:"ticket_id,notnull"`
	GeneratedResponse string          `bun:"generated_response,notnull"`
	ConfidenceScore   float64         `bun:"confidence_score"`
	Sources           []models.Source `bun:"sources,type:jsonb"`
	CreatedAt         time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.URL + "?sslmode=disable"
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn), pgdriver.WithPassword(cfg.Password))), nil
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// InitDB creates the pipeline's tables when they do not exist yet. The
// pgvector extension must already be enabled on the database.
func InitDB(ctx context.Context, db *bun.DB) error {
	tables := []interface{}{
		(*Document)(nil),
		(*DocumentChunk)(nil),
		(*Ticket)(nil),
		(*ReferenceEmbedding)(nil),
		(*AIResponse)(nil),
	}
	for _, table := range tables {
		if _, err := db.NewCreateTable().Model(table).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	_, err := db.NewCreateIndex().
		Model((*ReferenceEmbedding)(nil)).
		Index("reference_embeddings_category_label_idx").
		Unique().
		Column("category", "label").
		IfNotExists().
		Exec(ctx)
	return err
}
