package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"

	"ticket-triage/internal/classifier"
	"ticket-triage/internal/config"
	"ticket-triage/internal/db"
	"ticket-triage/internal/docindex"
	"ticket-triage/internal/helper"
	"ticket-triage/internal/models"
	"ticket-triage/internal/parser"
	"ticket-triage/internal/queue"
)

// Store is the slice of the database layer the pipeline stages use.
type Store interface {
	ChunkContent(ctx context.Context, id int64) (string, error)
	UpdateChunkEmbedding(ctx context.Context, id int64, embedding []float32) error
	ChunksWithEmbeddings(ctx context.Context) ([]db.ChunkPage, error)

	InsertTicket(ctx context.Context, ticket *db.Ticket) error
	Ticket(ctx context.Context, id int64) (*db.Ticket, error)
	TicketContent(ctx context.Context, id int64) (string, error)
	UpdateTicketStatus(ctx context.Context, id int64, status string) error
	UpdateTicketEmbedding(ctx context.Context, id int64, embedding []float32) error
	UpdateTicketClassification(ctx context.Context, id int64, cls models.Classification) error
	TicketsWithEmbeddings(ctx context.Context, excludeID int64) ([]db.Ticket, error)

	ReferenceEmbeddings(ctx context.Context) ([]db.ReferenceEmbedding, error)
	UpsertReferenceEmbedding(ctx context.Context, ref *db.ReferenceEmbedding) error
	InsertAIResponse(ctx context.Context, resp *db.AIResponse) error
}

// Embedder computes a text embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Crawler produces scraped documentation pages.
type Crawler interface {
	ScrapeDocumentation(ctx context.Context) ([]models.ScrapedDocument, error)
}

// DocProcessor stores scraped documents and enqueues their embedding jobs.
type DocProcessor interface {
	ProcessDocuments(ctx context.Context, docs []models.ScrapedDocument) (models.ScrapeSummary, error)
}

// Drafter synthesizes a customer-facing response.
type Drafter interface {
	Draft(ctx context.Context, ticketContent string, cls models.Classification, similar []models.SimilarTicket, sources []models.Source) models.DraftedResponse
}

// DocIndex retrieves documentation sources by embedding similarity.
type DocIndex interface {
	Add(ctx context.Context, pages []db.ChunkPage) error
	Query(ctx context.Context, embedding []float32, k int, threshold float64) ([]models.Source, error)
}

// Pipeline wires the stages together: crawling feeds the embeddings queue,
// which feeds classification and response synthesis.
type Pipeline struct {
	store      Store
	queue      queue.Queue
	embedder   Embedder
	crawler    Crawler
	processor  DocProcessor
	classifier *classifier.Classifier
	drafter    Drafter
	cfg        config.PipelineConfig
	log        zerolog.Logger

	// Swapped in tests; defaults to an in-memory chromem index per batch.
	newIndex func() (DocIndex, error)
}

func New(store Store, q queue.Queue, embedder Embedder, crawler Crawler, processor DocProcessor, drafter Drafter, cfg config.PipelineConfig, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		queue:      q,
		embedder:   embedder,
		crawler:    crawler,
		processor:  processor,
		classifier: classifier.New(cfg.TopicThreshold, cfg.TopicTagLimit),
		drafter:    drafter,
		cfg:        cfg,
		log:        log,
		newIndex: func() (DocIndex, error) {
			return docindex.New()
		},
	}
}

// RunScrape crawls the documentation hosts and stores what changed.
func (p *Pipeline) RunScrape(ctx context.Context) (models.ScrapeSummary, error) {
	docs, err := p.crawler.ScrapeDocumentation(ctx)
	if err != nil {
		return models.ScrapeSummary{}, fmt.Errorf("scrape documentation: %w", err)
	}
	return p.processor.ProcessDocuments(ctx, docs)
}

// RunIngest parses local knowledge-base files and stores them through the
// same processing path as crawled pages.
func (p *Pipeline) RunIngest(ctx context.Context, paths []string) (models.ScrapeSummary, error) {
	var docs []models.ScrapedDocument
	for _, path := range paths {
		doc, err := parser.ParseFile(path)
		if err != nil {
			p.log.Error().Err(err).Str("path", path).Msg("failed to parse file")
			continue
		}
		docs = append(docs, doc)
	}
	return p.processor.ProcessDocuments(ctx, docs)
}

// RunEmbeddingBatch drains one batch from the embeddings queue. Each job
// embeds one row's text and writes the vector back. Jobs that fail
// permanently are deleted; transient failures stay queued for redelivery.
func (p *Pipeline) RunEmbeddingBatch(ctx context.Context) (models.StageSummary, error) {
	summary := models.StageSummary{Stage: "embeddings"}

	msgs, err := p.queue.Receive(ctx,
		models.QueueEmbeddings,
		time.Duration(p.cfg.EmbedVisibilitySec)*time.Second,
		p.cfg.EmbedBatchSize,
	)
	if err != nil {
		return summary, fmt.Errorf("receive embedding jobs: %w", err)
	}

	for _, msg := range msgs {
		err := p.handleEmbeddingJob(ctx, msg.Payload)
		p.settle(ctx, models.QueueEmbeddings, msg, err, &summary)
	}
	return summary, nil
}

func (p *Pipeline) handleEmbeddingJob(ctx context.Context, payload json.RawMessage) error {
	var job models.EmbeddingJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return Permanent(fmt.Errorf("decode embedding job: %w", err))
	}

	var content string
	var err error
	switch job.Table {
	case models.TableDocumentChunks:
		content, err = p.store.ChunkContent(ctx, job.ID)
	case models.TableTickets:
		content, err = p.store.TicketContent(ctx, job.ID)
	default:
		return Permanent(fmt.Errorf("unknown embedding target table %q", job.Table))
	}
	if errors.Is(err, db.ErrNotFound) {
		return Permanent(err)
	}
	if err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return Permanent(fmt.Errorf("%s/%d has no content to embed", job.Table, job.ID))
	}

	embedding, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed %s/%d: %w", job.Table, job.ID, err)
	}

	switch job.Table {
	case models.TableDocumentChunks:
		err = p.store.UpdateChunkEmbedding(ctx, job.ID, embedding)
	case models.TableTickets:
		err = p.store.UpdateTicketEmbedding(ctx, job.ID, embedding)
	}
	if errors.Is(err, db.ErrNotFound) {
		return Permanent(err)
	}
	if err != nil {
		return err
	}

	// An embedded ticket moves on to classification.
	if job.Table == models.TableTickets {
		if err := p.store.UpdateTicketStatus(ctx, job.ID, models.TicketStatusProcessing); err != nil {
			return err
		}
		classifyJob := models.ClassificationJob{TicketID: job.ID}
		if _, err := p.queue.Send(ctx, models.QueueClassifications, classifyJob); err != nil {
			return fmt.Errorf("enqueue classification for ticket %d: %w", job.ID, err)
		}
	}
	return nil
}

// RunClassificationBatch drains one batch from the classifications queue.
// The documentation index is built once and shared across the batch.
func (p *Pipeline) RunClassificationBatch(ctx context.Context) (models.StageSummary, error) {
	summary := models.StageSummary{Stage: "classifications"}

	msgs, err := p.queue.Receive(ctx,
		models.QueueClassifications,
		time.Duration(p.cfg.ClassifyVisibilitySec)*time.Second,
		p.cfg.ClassifyBatchSize,
	)
	if err != nil {
		return summary, fmt.Errorf("receive classification jobs: %w", err)
	}
	if len(msgs) == 0 {
		return summary, nil
	}

	index, err := p.buildDocIndex(ctx)
	if err != nil {
		return summary, err
	}

	for _, msg := range msgs {
		err := p.handleClassificationJob(ctx, msg.Payload, index)
		p.settle(ctx, models.QueueClassifications, msg, err, &summary)
	}
	return summary, nil
}

func (p *Pipeline) buildDocIndex(ctx context.Context) (DocIndex, error) {
	index, err := p.newIndex()
	if err != nil {
		return nil, fmt.Errorf("create doc index: %w", err)
	}
	pages, err := p.store.ChunksWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	if err := index.Add(ctx, pages); err != nil {
		return nil, err
	}
	return index, nil
}

func (p *Pipeline) handleClassificationJob(ctx context.Context, payload json.RawMessage, index DocIndex) error {
	var job models.ClassificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return Permanent(fmt.Errorf("decode classification job: %w", err))
	}

	ticket, err := p.store.Ticket(ctx, job.TicketID)
	if errors.Is(err, db.ErrNotFound) {
		return Permanent(err)
	}
	if err != nil {
		return err
	}

	if err := p.store.UpdateTicketStatus(ctx, ticket.ID, models.TicketStatusProcessing); err != nil {
		p.log.Warn().Err(err).Int64("ticket_id", ticket.ID).Msg("could not mark ticket processing")
	}

	content := ticket.Subject + "\n\n" + ticket.Description

	// Reuse the embedding written by the embeddings stage; a ticket that
	// arrives here first gets embedded inline.
	var embedding []float32
	if ticket.Embedding != nil {
		embedding = ticket.Embedding.Slice()
	}
	if len(embedding) == 0 {
		embedding, err = p.embedder.Embed(ctx, content)
		if err != nil {
			return fmt.Errorf("embed ticket %d: %w", ticket.ID, err)
		}
		if err := p.store.UpdateTicketEmbedding(ctx, ticket.ID, embedding); err != nil {
			return err
		}
	}

	refs, err := p.loadReferences(ctx)
	if err != nil {
		return err
	}

	cls := p.classifier.Classify(refs, embedding)

	// Persist the classification before response synthesis so a failed or
	// fallback draft never loses the classification result.
	if err := p.store.UpdateTicketClassification(ctx, ticket.ID, cls); err != nil {
		return err
	}

	similar, err := p.similarTickets(ctx, ticket.ID, embedding)
	if err != nil {
		p.log.Warn().Err(err).Int64("ticket_id", ticket.ID).Msg("similar ticket lookup failed")
	}

	sources, err := index.Query(ctx, embedding, p.cfg.DocMatchLimit, p.cfg.DocMatchThreshold)
	if err != nil {
		p.log.Warn().Err(err).Int64("ticket_id", ticket.ID).Msg("documentation lookup failed")
	}

	draft := p.drafter.Draft(ctx, content, cls, similar, sources)

	if err := p.store.InsertAIResponse(ctx, &db.AIResponse{
		TicketID:          ticket.ID,
		GeneratedResponse: draft.Response,
		ConfidenceScore:   draft.Confidence,
		Sources:           draft.Sources,
	}); err != nil {
		return err
	}

	p.log.Info().
		Int64("ticket_id", ticket.ID).
		Str("ticket_number", ticket.TicketNumber).
		Strs("topics", cls.TopicTags).
		Bool("fallback", draft.Fallback).
		Msg("ticket classified")
	return nil
}

func (p *Pipeline) loadReferences(ctx context.Context) (classifier.Reference, error) {
	rows, err := p.store.ReferenceEmbeddings(ctx)
	if err != nil {
		return classifier.Reference{}, err
	}

	var refs classifier.Reference
	for _, row := range rows {
		c := classifier.Candidate{Label: row.Label, Embedding: row.Embedding.Slice()}
		switch row.Category {
		case models.CategoryTopic:
			refs.Topics = append(refs.Topics, c)
		case models.CategorySentiment:
			refs.Sentiments = append(refs.Sentiments, c)
		case models.CategoryPriority:
			refs.Priorities = append(refs.Priorities, c)
		}
	}
	return refs, nil
}

func (p *Pipeline) similarTickets(ctx context.Context, ticketID int64, embedding []float32) ([]models.SimilarTicket, error) {
	prior, err := p.store.TicketsWithEmbeddings(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	candidates := make([]classifier.Candidate, 0, len(prior))
	for _, t := range prior {
		var emb []float32
		if t.Embedding != nil {
			emb = t.Embedding.Slice()
		}
		candidates = append(candidates, classifier.Candidate{Label: t.TicketNumber, Embedding: emb})
	}

	var similar []models.SimilarTicket
	for _, m := range classifier.TopMatches(embedding, candidates, p.cfg.SimilarTicketLimit) {
		if m.Score <= p.cfg.SimilarTicketThreshold {
			continue
		}
		t := prior[m.Index]
		similar = append(similar, models.SimilarTicket{
			TicketID:     t.ID,
			TicketNumber: t.TicketNumber,
			Subject:      t.Subject,
			Score:        m.Score,
		})
	}
	return similar, nil
}

// EnqueueTicket stores a new ticket and queues its embedding job. The
// embedding stage enqueues classification once the vector is stored.
func (p *Pipeline) EnqueueTicket(ctx context.Context, subject, description string) (*db.Ticket, error) {
	number, err := helper.GenerateTicketNumber()
	if err != nil {
		return nil, err
	}

	ticket := &db.Ticket{
		TicketNumber: number,
		Subject:      subject,
		Description:  description,
		Status:       models.TicketStatusPending,
	}
	if err := p.store.InsertTicket(ctx, ticket); err != nil {
		return nil, err
	}

	embedJob := models.EmbeddingJob{
		ID:              ticket.ID,
		Schema:          models.SchemaPublic,
		Table:           models.TableTickets,
		EmbeddingColumn: models.ColumnEmbedding,
	}
	if _, err := p.queue.Send(ctx, models.QueueEmbeddings, embedJob); err != nil {
		return nil, fmt.Errorf("enqueue ticket embedding: %w", err)
	}

	p.log.Info().Str("ticket_number", number).Msg("ticket enqueued")
	return ticket, nil
}

// SeedReference embeds a label and stores it as a reference embedding for
// the given category.
func (p *Pipeline) SeedReference(ctx context.Context, category, label string) error {
	switch category {
	case models.CategoryTopic, models.CategorySentiment, models.CategoryPriority:
	default:
		return fmt.Errorf("unknown reference category %q", category)
	}

	embedding, err := p.embedder.Embed(ctx, label)
	if err != nil {
		return fmt.Errorf("embed reference label: %w", err)
	}
	return p.store.UpsertReferenceEmbedding(ctx, &db.ReferenceEmbedding{
		Category:  category,
		Label:     label,
		Embedding: pgvector.NewVector(embedding),
	})
}

// settle acknowledges or re-queues one message according to the failure
// policy and records it in the summary.
func (p *Pipeline) settle(ctx context.Context, queueName string, msg queue.Message, jobErr error, summary *models.StageSummary) {
	if jobErr == nil {
		if err := p.queue.Delete(ctx, queueName, msg.ID); err != nil {
			p.log.Error().Err(err).Int64("msg_id", msg.ID).Msg("failed to ack message")
		}
		summary.Completed++
		return
	}

	summary.Failed = append(summary.Failed, models.FailedJob{
		Payload: msg.Payload,
		Error:   jobErr.Error(),
	})

	if IsPermanent(jobErr) {
		p.log.Error().Err(jobErr).Int64("msg_id", msg.ID).Msg("dropping permanently failed job")
		if err := p.queue.Delete(ctx, queueName, msg.ID); err != nil {
			p.log.Error().Err(err).Int64("msg_id", msg.ID).Msg("failed to drop message")
		}
		return
	}

	// Transient failure: the message stays invisible until the visibility
	// timeout expires, then gets redelivered.
	p.log.Warn().Err(jobErr).Int64("msg_id", msg.ID).Int("read_count", msg.ReadCount).Msg("job failed, leaving for retry")
}
