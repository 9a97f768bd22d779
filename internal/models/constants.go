package models

const (
	QueueEmbeddings      = "embedding_jobs"
	QueueClassifications = "classification_jobs"

	SchemaPublic        = "public"
	TableTickets        = "tickets"
	TableDocumentChunks = "document_chunks"

	ColumnEmbedding = "embedding"

	TicketStatusPending    = "pending"
	TicketStatusProcessing = "processing"
	TicketStatusClassified = "classified"

	CategoryTopic     = "topic"
	CategorySentiment = "sentiment"
	CategoryPriority  = "priority"
)

const ResponderSystemPrompt = `You are a helpful support agent with deep knowledge of the product. Use the provided classification and references to answer the customer.`

var ResponsePromptTemplate = `Customer ticket:
%s

Predicted classification:
  topics: %s
  sentiment: %s
  priority: %s

Similar resolved tickets:
%s
Relevant documentation (title - url):
%s
Provide a response that acknowledges the specific issue, gives step-by-step guidance and references the documentation above.
Format your response as JSON:
{
  "answer": "Your detailed response here...",
  "confidence": 0.85,
  "sources": [
    {"title": "Documentation Title", "url": "https://...", "snippet": "Relevant excerpt..."}
  ]
}`

var FallbackResponseTemplate = `Thank you for reaching out. We have received your request and categorized it as follows.

Topics: %s
Sentiment: %s
Priority: %s

While an agent reviews your ticket, the following documentation may help:
%s`
