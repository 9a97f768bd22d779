package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-triage/internal/config"
	"ticket-triage/internal/db"
	"ticket-triage/internal/models"
	"ticket-triage/internal/queue"
)

type fakeStore struct {
	chunks    map[int64]string
	chunkEmbs map[int64][]float32
	pages     []db.ChunkPage

	tickets         map[int64]*db.Ticket
	nextTicketID    int64
	statuses        map[int64]string
	classifications map[int64]models.Classification
	refs            []db.ReferenceEmbedding
	responses       []*db.AIResponse
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		chunks:          make(map[int64]string),
		chunkEmbs:       make(map[int64][]float32),
		tickets:         make(map[int64]*db.Ticket),
		statuses:        make(map[int64]string),
		classifications: make(map[int64]models.Classification),
	}
}

func (f *fakeStore) ChunkContent(_ context.Context, id int64) (string, error) {
	content, ok := f.chunks[id]
	if !ok {
		return "", db.ErrNotFound
	}
	return content, nil
}

func (f *fakeStore) UpdateChunkEmbedding(_ context.Context, id int64, embedding []float32) error {
	if _, ok := f.chunks[id]; !ok {
		return db.ErrNotFound
	}
	f.chunkEmbs[id] = embedding
	return nil
}

func (f *fakeStore) ChunksWithEmbeddings(_ context.Context) ([]db.ChunkPage, error) {
	return f.pages, nil
}

func (f *fakeStore) InsertTicket(_ context.Context, ticket *db.Ticket) error {
	f.nextTicketID++
	ticket.ID = f.nextTicketID
	f.tickets[ticket.ID] = ticket
	return nil
}

func (f *fakeStore) Ticket(_ context.Context, id int64) (*db.Ticket, error) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) TicketContent(_ context.Context, id int64) (string, error) {
	t, ok := f.tickets[id]
	if !ok {
		return "", db.ErrNotFound
	}
	return t.Subject + "\n\n" + t.Description, nil
}

func (f *fakeStore) UpdateTicketStatus(_ context.Context, id int64, status string) error {
	f.statuses[id] = status
	return nil
}

func (f *fakeStore) UpdateTicketEmbedding(_ context.Context, id int64, embedding []float32) error {
	t, ok := f.tickets[id]
	if !ok {
		return db.ErrNotFound
	}
	vec := pgvector.NewVector(embedding)
	t.Embedding = &vec
	return nil
}

func (f *fakeStore) UpdateTicketClassification(_ context.Context, id int64, cls models.Classification) error {
	if _, ok := f.tickets[id]; !ok {
		return db.ErrNotFound
	}
	f.classifications[id] = cls
	f.statuses[id] = models.TicketStatusClassified
	return nil
}

func (f *fakeStore) TicketsWithEmbeddings(_ context.Context, excludeID int64) ([]db.Ticket, error) {
	var out []db.Ticket
	for _, t := range f.tickets {
		if t.ID != excludeID && t.Embedding != nil {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) ReferenceEmbeddings(_ context.Context) ([]db.ReferenceEmbedding, error) {
	return f.refs, nil
}

func (f *fakeStore) UpsertReferenceEmbedding(_ context.Context, ref *db.ReferenceEmbedding) error {
	f.refs = append(f.refs, *ref)
	return nil
}

func (f *fakeStore) InsertAIResponse(_ context.Context, resp *db.AIResponse) error {
	f.responses = append(f.responses, resp)
	return nil
}

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vec, f.err
}

type fakeIndex struct {
	sources []models.Source
}

func (f *fakeIndex) Add(_ context.Context, _ []db.ChunkPage) error { return nil }

func (f *fakeIndex) Query(_ context.Context, _ []float32, _ int, _ float64) ([]models.Source, error) {
	return f.sources, nil
}

type fakeDrafter struct {
	draft models.DraftedResponse
	calls int
}

func (f *fakeDrafter) Draft(_ context.Context, _ string, _ models.Classification, _ []models.SimilarTicket, sources []models.Source) models.DraftedResponse {
	f.calls++
	if f.draft.Sources == nil {
		f.draft.Sources = sources
	}
	return f.draft
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		TopicThreshold:         0.55,
		TopicTagLimit:          3,
		SimilarTicketThreshold: 0.7,
		SimilarTicketLimit:     5,
		DocMatchThreshold:      0.4,
		DocMatchLimit:          5,
		EmbedVisibilitySec:     30,
		EmbedBatchSize:         10,
		ClassifyVisibilitySec:  60,
		ClassifyBatchSize:      3,
	}
}

func testPipeline(store *fakeStore, q queue.Queue, embedder Embedder, drafter Drafter, index DocIndex) *Pipeline {
	p := New(store, q, embedder, nil, nil, drafter, testConfig(), zerolog.Nop())
	p.newIndex = func() (DocIndex, error) { return index, nil }
	return p
}

func TestRunEmbeddingBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("successful job writes the vector and acks", func(t *testing.T) {
		store := newFakeStore()
		store.chunks[11] = "chunk text"
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, models.EmbeddingJob{
			ID: 11, Schema: models.SchemaPublic, Table: models.TableDocumentChunks, EmbeddingColumn: models.ColumnEmbedding,
		})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 2}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Completed)
		assert.Empty(t, summary.Failed)
		assert.Equal(t, []float32{1, 2}, store.chunkEmbs[11])
		assert.Zero(t, q.Len(models.QueueEmbeddings))
	})

	t.Run("ticket jobs embed the ticket row", func(t *testing.T) {
		store := newFakeStore()
		require.NoError(t, store.InsertTicket(ctx, &db.Ticket{Subject: "s", Description: "d"}))
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, models.EmbeddingJob{
			ID: 1, Schema: models.SchemaPublic, Table: models.TableTickets, EmbeddingColumn: models.ColumnEmbedding,
		})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Completed)
		require.NotNil(t, store.tickets[1].Embedding)
		assert.Equal(t, []float32{1, 0}, store.tickets[1].Embedding.Slice())

		// An embedded ticket advances to processing and heads for
		// classification.
		assert.Equal(t, models.TicketStatusProcessing, store.statuses[1])
		assert.Equal(t, 1, q.Len(models.QueueClassifications))
	})

	t.Run("empty content is dropped", func(t *testing.T) {
		store := newFakeStore()
		store.chunks[11] = "   "
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, models.EmbeddingJob{ID: 11, Table: models.TableDocumentChunks})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 1)
		assert.Zero(t, q.Len(models.QueueEmbeddings))
		assert.Empty(t, store.chunkEmbs)
	})

	t.Run("malformed payload is dropped", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, "not an embedding job")
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		assert.Zero(t, summary.Completed)
		require.Len(t, summary.Failed, 1)
		assert.Zero(t, q.Len(models.QueueEmbeddings), "permanent failures must not be redelivered")
	})

	t.Run("missing row is dropped", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, models.EmbeddingJob{ID: 404, Table: models.TableDocumentChunks})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 1)
		assert.Zero(t, q.Len(models.QueueEmbeddings))
	})

	t.Run("unknown table is dropped", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, models.EmbeddingJob{ID: 1, Table: "mystery"})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 1)
		assert.Zero(t, q.Len(models.QueueEmbeddings))
	})

	t.Run("provider failure leaves the job for redelivery", func(t *testing.T) {
		store := newFakeStore()
		store.chunks[11] = "chunk text"
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueEmbeddings, models.EmbeddingJob{ID: 11, Table: models.TableDocumentChunks})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{err: errors.New("all providers down")}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunEmbeddingBatch(ctx)
		require.NoError(t, err)

		assert.Zero(t, summary.Completed)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, 1, q.Len(models.QueueEmbeddings), "transient failures stay queued")
		assert.Empty(t, store.chunkEmbs)
	})
}

func classifiedTicketFixture(ctx context.Context, t *testing.T, store *fakeStore, q queue.Queue) *db.Ticket {
	t.Helper()

	ticket := &db.Ticket{Subject: "Connector is failing", Description: "Snowflake sync broke overnight", Status: models.TicketStatusPending}
	require.NoError(t, store.InsertTicket(ctx, ticket))
	vec := pgvector.NewVector([]float32{1, 0})
	ticket.Embedding = &vec

	store.refs = []db.ReferenceEmbedding{
		{Category: models.CategoryTopic, Label: "connector", Embedding: pgvector.NewVector([]float32{1, 0})},
		{Category: models.CategoryTopic, Label: "billing", Embedding: pgvector.NewVector([]float32{0, 1})},
		{Category: models.CategorySentiment, Label: "frustrated", Embedding: pgvector.NewVector([]float32{0.9, 0.1})},
		{Category: models.CategoryPriority, Label: "high", Embedding: pgvector.NewVector([]float32{1, 0.1})},
	}

	_, err := q.Send(ctx, models.QueueClassifications, models.ClassificationJob{TicketID: ticket.ID, TicketNumber: ticket.TicketNumber})
	require.NoError(t, err)
	return ticket
}

func TestRunClassificationBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("classifies, drafts and stores the response", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		ticket := classifiedTicketFixture(ctx, t, store, q)

		drafter := &fakeDrafter{draft: models.DraftedResponse{Response: "Try re-running the crawl.", Confidence: 0.9}}
		index := &fakeIndex{sources: []models.Source{{Title: "Connector guide", URL: "https://docs.example.com/guide/connector", Score: 0.8}}}
		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, drafter, index)

		summary, err := p.RunClassificationBatch(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Completed)
		assert.Empty(t, summary.Failed)
		assert.Zero(t, q.Len(models.QueueClassifications))

		cls := store.classifications[ticket.ID]
		assert.Equal(t, []string{"connector"}, cls.TopicTags)
		assert.Equal(t, "frustrated", cls.Sentiment)
		assert.Equal(t, "high", cls.Priority)
		assert.Equal(t, models.TicketStatusClassified, store.statuses[ticket.ID])

		require.Len(t, store.responses, 1)
		assert.Equal(t, ticket.ID, store.responses[0].TicketID)
		assert.Equal(t, "Try re-running the crawl.", store.responses[0].GeneratedResponse)
		assert.Equal(t, 1, drafter.calls)
	})

	t.Run("ticket without stored embedding is embedded inline", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		ticket := classifiedTicketFixture(ctx, t, store, q)
		ticket.Embedding = nil

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunClassificationBatch(ctx)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Completed)
		require.NotNil(t, store.tickets[ticket.ID].Embedding)
	})

	t.Run("classification persists even when the draft is a fallback", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		ticket := classifiedTicketFixture(ctx, t, store, q)

		drafter := &fakeDrafter{draft: models.DraftedResponse{Response: "Thanks, we are on it.", Fallback: true}}
		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, drafter, &fakeIndex{})

		_, err := p.RunClassificationBatch(ctx)
		require.NoError(t, err)

		assert.Equal(t, models.TicketStatusClassified, store.statuses[ticket.ID])
		assert.NotEmpty(t, store.classifications[ticket.ID].TopicTags)
		require.Len(t, store.responses, 1)
		assert.Zero(t, store.responses[0].ConfidenceScore)
	})

	t.Run("unknown ticket is dropped", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		_, err := q.Send(ctx, models.QueueClassifications, models.ClassificationJob{TicketID: 404})
		require.NoError(t, err)

		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunClassificationBatch(ctx)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 1)
		assert.Zero(t, q.Len(models.QueueClassifications))
	})

	t.Run("embedding failure leaves the job queued", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		ticket := classifiedTicketFixture(ctx, t, store, q)
		ticket.Embedding = nil

		p := testPipeline(store, q, &fakeEmbedder{err: errors.New("providers down")}, &fakeDrafter{}, &fakeIndex{})
		summary, err := p.RunClassificationBatch(ctx)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 1)
		assert.Equal(t, 1, q.Len(models.QueueClassifications))
		assert.Empty(t, store.classifications)
	})

	t.Run("empty queue is a no-op", func(t *testing.T) {
		store := newFakeStore()
		q := queue.NewMemQueue()
		p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, &fakeDrafter{}, &fakeIndex{})

		summary, err := p.RunClassificationBatch(ctx)
		require.NoError(t, err)
		assert.Zero(t, summary.Completed)
		assert.Empty(t, summary.Failed)
	})
}

func TestSimilarTickets(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	q := queue.NewMemQueue()

	for i, vec := range [][]float32{{1, 0}, {0.95, 0.05}, {0, 1}} {
		ticket := &db.Ticket{TicketNumber: "TICK-" + string(rune('A'+i)), Subject: "prior", Status: models.TicketStatusClassified}
		require.NoError(t, store.InsertTicket(ctx, ticket))
		v := pgvector.NewVector(vec)
		ticket.Embedding = &v
	}

	p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, &fakeDrafter{}, &fakeIndex{})

	similar, err := p.similarTickets(ctx, 99, []float32{1, 0})
	require.NoError(t, err)

	require.Len(t, similar, 2, "only tickets above the similarity threshold")
	assert.Equal(t, "TICK-A", similar[0].TicketNumber)
	for _, s := range similar {
		assert.Greater(t, s.Score, 0.7)
	}
}

func TestEnqueueTicket(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	q := queue.NewMemQueue()
	p := testPipeline(store, q, &fakeEmbedder{vec: []float32{1, 0}}, &fakeDrafter{}, &fakeIndex{})

	ticket, err := p.EnqueueTicket(ctx, "Cannot log in", "SSO redirect loops forever")
	require.NoError(t, err)

	assert.NotZero(t, ticket.ID)
	assert.NotEmpty(t, ticket.TicketNumber)
	assert.Equal(t, models.TicketStatusPending, ticket.Status)
	assert.Equal(t, 1, q.Len(models.QueueEmbeddings))
	assert.Zero(t, q.Len(models.QueueClassifications), "classification waits for the embedding stage")
}

func TestSeedReference(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	q := queue.NewMemQueue()
	p := testPipeline(store, q, &fakeEmbedder{vec: []float32{0.1, 0.2}}, &fakeDrafter{}, &fakeIndex{})

	t.Run("stores the embedded label", func(t *testing.T) {
		require.NoError(t, p.SeedReference(ctx, models.CategoryTopic, "billing"))
		require.Len(t, store.refs, 1)
		assert.Equal(t, "billing", store.refs[0].Label)
		assert.Equal(t, []float32{0.1, 0.2}, store.refs[0].Embedding.Slice())
	})

	t.Run("rejects unknown categories", func(t *testing.T) {
		assert.Error(t, p.SeedReference(ctx, "mood", "angry"))
	})
}
