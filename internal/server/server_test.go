package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-triage/internal/config"
	"ticket-triage/internal/models"
)

type stubRunner struct {
	scrapeErr error
}

func (s *stubRunner) RunScrape(context.Context) (models.ScrapeSummary, error) {
	return models.ScrapeSummary{DocumentsScraped: 4, DocumentsProcessed: 3, DocumentsSkipped: 1, ChunksCreated: 12}, s.scrapeErr
}

func (s *stubRunner) RunEmbeddingBatch(context.Context) (models.StageSummary, error) {
	return models.StageSummary{Stage: "embeddings", Completed: 2}, nil
}

func (s *stubRunner) RunClassificationBatch(context.Context) (models.StageSummary, error) {
	return models.StageSummary{Stage: "classifications", Completed: 1}, nil
}

func testServer(runner StageRunner) *Server {
	return New(config.ServerConfig{Addr: ":0", Token: "secret"}, runner, zerolog.Nop())
}

func request(t *testing.T, handler http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer(t *testing.T) {
	t.Run("missing token is unauthorized", func(t *testing.T) {
		h := testServer(&stubRunner{}).Handler()
		rec := request(t, h, http.MethodPost, "/pipeline/scrape", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token is unauthorized", func(t *testing.T) {
		h := testServer(&stubRunner{}).Handler()
		rec := request(t, h, http.MethodPost, "/pipeline/embeddings", "guess")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unconfigured token rejects everything", func(t *testing.T) {
		s := New(config.ServerConfig{}, &stubRunner{}, zerolog.Nop())
		rec := request(t, s.Handler(), http.MethodPost, "/pipeline/scrape", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("GET is rejected", func(t *testing.T) {
		h := testServer(&stubRunner{}).Handler()
		rec := request(t, h, http.MethodGet, "/pipeline/scrape", "secret")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("scrape returns its summary", func(t *testing.T) {
		h := testServer(&stubRunner{}).Handler()
		rec := request(t, h, http.MethodPost, "/pipeline/scrape", "secret")
		require.Equal(t, http.StatusOK, rec.Code)

		var summary models.ScrapeSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, 3, summary.DocumentsProcessed)
		assert.Equal(t, 12, summary.ChunksCreated)
	})

	t.Run("embeddings returns its stage summary", func(t *testing.T) {
		h := testServer(&stubRunner{}).Handler()
		rec := request(t, h, http.MethodPost, "/pipeline/embeddings", "secret")
		require.Equal(t, http.StatusOK, rec.Code)

		var summary models.StageSummary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, "embeddings", summary.Stage)
		assert.Equal(t, 2, summary.Completed)
	})

	t.Run("orchestration failure is a 500", func(t *testing.T) {
		h := testServer(&stubRunner{scrapeErr: errors.New("db down")}).Handler()
		rec := request(t, h, http.MethodPost, "/pipeline/scrape", "secret")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
