package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"ticket-triage/internal/config"
	"ticket-triage/internal/models"
)

// StageRunner triggers pipeline stages on demand.
type StageRunner interface {
	RunScrape(ctx context.Context) (models.ScrapeSummary, error)
	RunEmbeddingBatch(ctx context.Context) (models.StageSummary, error)
	RunClassificationBatch(ctx context.Context) (models.StageSummary, error)
}

// Server exposes the pipeline stages over HTTP so a scheduler can drive
// them. All endpoints require the configured bearer token.
type Server struct {
	cfg    config.ServerConfig
	runner StageRunner
	log    zerolog.Logger
}

func New(cfg config.ServerConfig, runner StageRunner, log zerolog.Logger) *Server {
	return &Server{cfg: cfg, runner: runner, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/pipeline/scrape", s.authorized(s.handleScrape))
	mux.HandleFunc("/pipeline/embeddings", s.authorized(s.handleEmbeddings))
	mux.HandleFunc("/pipeline/classifications", s.authorized(s.handleClassifications))
	return mux
}

func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("pipeline server listening")
	return http.ListenAndServe(s.cfg.Addr, s.Handler())
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.cfg.Token == "" || token != s.cfg.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunScrape(r.Context())
	s.respond(w, summary, err)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunEmbeddingBatch(r.Context())
	s.respond(w, summary, err)
}

func (s *Server) handleClassifications(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunClassificationBatch(r.Context())
	s.respond(w, summary, err)
}

// respond reports orchestration errors as 500; per-job failures ride inside
// the summary with a 200.
func (s *Server) respond(w http.ResponseWriter, summary any, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("stage failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.log.Error().Err(err).Msg("failed to encode summary")
	}
}
