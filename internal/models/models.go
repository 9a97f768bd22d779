package models

import "encoding/json"

// ScrapedDocument is a single documentation page as returned by the crawler
// or the knowledge-base file parser.
type ScrapedDocument struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Headings    []string `json:"headings"`
	Breadcrumbs []string `json:"breadcrumbs"`
	Section     string   `json:"section"`
	Hyperlinks  []string `json:"hyperlinks,omitempty"`
}

// Chunk is a bounded slice of a document's text, tagged with the nearest
// preceding section heading.
type Chunk struct {
	Content string
	Index   int
	Heading string
}

// EmbeddingJob is the payload of a message on the embeddings queue. The
// target row is identified by schema/table/id; the computed vector is written
// to EmbeddingColumn.
type EmbeddingJob struct {
	ID              int64  `json:"id"`
	Schema          string `json:"schema"`
	Table           string `json:"table"`
	EmbeddingColumn string `json:"embedding_column"`
}

// ClassificationJob is the payload of a message on the classification queue.
type ClassificationJob struct {
	TicketID     int64  `json:"ticket_id"`
	TicketNumber string `json:"ticket_number"`
}

// Classification is the result of matching a ticket embedding against the
// reference label embeddings.
type Classification struct {
	TopicTags  []string `json:"topic_tags"`
	Sentiment  string   `json:"sentiment,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Confidence float64  `json:"confidence"`
}

// Source is a retrieved reference attached to an AI response.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet,omitempty"`
	Score   float64 `json:"score"`
}

// SimilarTicket is a prior ticket retrieved by embedding similarity.
type SimilarTicket struct {
	TicketID     int64   `json:"ticket_id"`
	TicketNumber string  `json:"ticket_number"`
	Subject      string  `json:"subject"`
	Score        float64 `json:"score"`
}

// DraftedResponse is the synthesized reply for a ticket. Fallback is true
// when the text-generation provider failed and the templated summary was
// used instead.
type DraftedResponse struct {
	Response   string   `json:"response"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
	Fallback   bool     `json:"fallback"`
}

// FailedJob records a job that could not be processed, for the stage summary.
type FailedJob struct {
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

// StageSummary is returned by each queue-draining pipeline stage.
type StageSummary struct {
	Stage     string      `json:"stage"`
	Completed int         `json:"completed"`
	Failed    []FailedJob `json:"failed,omitempty"`
}

// ScrapeSummary is returned by the crawl-and-process stage.
type ScrapeSummary struct {
	DocumentsScraped   int `json:"documents_scraped"`
	DocumentsProcessed int `json:"documents_processed"`
	DocumentsSkipped   int `json:"documents_skipped"`
	ChunksCreated      int `json:"chunks_created"`
}
