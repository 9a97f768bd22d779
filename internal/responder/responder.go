package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ticket-triage/internal/models"
)

const maxTicketPromptChars = 2000

// Generator produces text from a system and user prompt.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// Responder drafts a customer-facing reply from the ticket, its
// classification and the retrieved documentation.
type Responder struct {
	llm Generator
	log zerolog.Logger
}

func New(llm Generator, log zerolog.Logger) *Responder {
	return &Responder{llm: llm, log: log}
}

type llmReply struct {
	Answer     string          `json:"answer"`
	Confidence float64         `json:"confidence"`
	Sources    []models.Source `json:"sources"`
}

// Draft never fails: when the provider errors or returns nothing usable, it
// degrades to a templated acknowledgement so the ticket always gets a stored
// response.
func (r *Responder) Draft(ctx context.Context, ticketContent string, cls models.Classification, similar []models.SimilarTicket, sources []models.Source) models.DraftedResponse {
	prompt := BuildPrompt(ticketContent, cls, similar, sources)

	raw, err := r.llm.Generate(ctx, models.ResponderSystemPrompt, prompt)
	if err != nil || strings.TrimSpace(raw) == "" {
		r.log.Warn().Err(err).Msg("generation failed, using fallback response")
		return fallbackResponse(cls, sources)
	}

	var reply llmReply
	if jsonErr := json.Unmarshal([]byte(ExtractJSON(raw)), &reply); jsonErr != nil || reply.Answer == "" {
		// The model ignored the JSON instruction; keep its text as-is with
		// reduced confidence.
		return models.DraftedResponse{
			Response:   strings.TrimSpace(raw),
			Confidence: 0.5,
			Sources:    sources,
		}
	}

	resp := models.DraftedResponse{
		Response:   reply.Answer,
		Confidence: reply.Confidence,
		Sources:    reply.Sources,
	}
	if len(resp.Sources) == 0 {
		resp.Sources = sources
	}
	return resp
}

// BuildPrompt fills the response template. Very long tickets are truncated so
// the classification and references are never pushed out of context.
func BuildPrompt(ticketContent string, cls models.Classification, similar []models.SimilarTicket, sources []models.Source) string {
	if len(ticketContent) > maxTicketPromptChars {
		ticketContent = ticketContent[:maxTicketPromptChars] + "..."
	}

	var prior strings.Builder
	for _, t := range similar {
		fmt.Fprintf(&prior, "  - [%s] %s\n", t.TicketNumber, t.Subject)
	}
	if prior.Len() == 0 {
		prior.WriteString("  (none found)\n")
	}

	var refs strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&refs, "  - %s - %s\n", s.Title, s.URL)
	}
	if refs.Len() == 0 {
		refs.WriteString("  (none found)\n")
	}

	return fmt.Sprintf(models.ResponsePromptTemplate,
		ticketContent,
		joinOrNone(cls.TopicTags),
		orNone(cls.Sentiment),
		orNone(cls.Priority),
		prior.String(),
		refs.String(),
	)
}

// ExtractJSON strips markdown code fences and surrounding prose, returning
// the outermost JSON object in the text.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func fallbackResponse(cls models.Classification, sources []models.Source) models.DraftedResponse {
	var refs strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&refs, "  - %s: %s\n", s.Title, s.URL)
	}
	if refs.Len() == 0 {
		refs.WriteString("  (no documentation matched)\n")
	}

	return models.DraftedResponse{
		Response: fmt.Sprintf(models.FallbackResponseTemplate,
			joinOrNone(cls.TopicTags),
			orNone(cls.Sentiment),
			orNone(cls.Priority),
			refs.String(),
		),
		Confidence: 0,
		Sources:    sources,
		Fallback:   true,
	}
}

func joinOrNone(tags []string) string {
	if len(tags) == 0 {
		return "unclassified"
	}
	return strings.Join(tags, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
