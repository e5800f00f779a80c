package impl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corpusvault/corpusvault/config"
)

func testEmbedderServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, config.EmbedderConfig) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.EmbedderConfig{
		BaseURL:      server.URL,
		APIKey:       "platform-key",
		DefaultModel: "text-embedding-3-small",
		Timeout:      5,
		MaxBatchSize: 2,
	}
	return server, cfg
}

func TestEmbedder_Batch(t *testing.T) {
	var calls int
	_, cfg := testEmbedderServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer platform-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Input), 2)

		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{0.1, 0.2}})
		}
		resp.Usage.TotalTokens = len(req.Input) * 3
		json.NewEncoder(w).Encode(resp)
	})

	e := NewEmbedder(cfg)
	result, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"}, "text-embedding-3-small", "")
	require.NoError(t, err)

	// 3 texts with max batch 2 means two calls.
	assert.Equal(t, 2, calls)
	assert.Len(t, result.Vectors, 3)
	assert.Equal(t, 9, result.TokensUsed)
	assert.InDelta(t, 9*0.02/1_000_000, result.CostUSD, 1e-12)
}

func TestEmbedder_TenantKeyOverridesPlatform(t *testing.T) {
	_, cfg := testEmbedderServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tenant-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(embeddingResponse{
			Data: []struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{{Index: 0, Embedding: []float32{1}}},
		})
	})

	e := NewEmbedder(cfg)
	_, err := e.EmbedBatch(context.Background(), []string{"x"}, "text-embedding-3-small", "tenant-key")
	require.NoError(t, err)
}

func TestEmbedder_TokenEstimateFallback(t *testing.T) {
	_, cfg := testEmbedderServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{0.5}})
		}
		json.NewEncoder(w).Encode(resp)
	})

	e := NewEmbedder(cfg)
	// 10 chars total, no usage reported: ceil(10/4) = 3.
	result, err := e.EmbedBatch(context.Background(), []string{"12345", "67890"}, "text-embedding-3-small", "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.TokensUsed)
}

func TestEmbedder_AuthError(t *testing.T) {
	_, cfg := testEmbedderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	e := NewEmbedder(cfg)
	_, err := e.EmbedBatch(context.Background(), []string{"x"}, "text-embedding-3-small", "bad-key")
	require.Error(t, err)

	var authErr *EmbedderAuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestEmbedder_ServerErrorIsRetryable(t *testing.T) {
	_, cfg := testEmbedderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	e := NewEmbedder(cfg)
	_, err := e.EmbedBatch(context.Background(), []string{"x"}, "text-embedding-3-small", "")
	require.Error(t, err)

	var unavailable *EmbedderUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestEmbedder_BadRequestIsFatal(t *testing.T) {
	_, cfg := testEmbedderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	e := NewEmbedder(cfg)
	_, err := e.EmbedBatch(context.Background(), []string{"x"}, "text-embedding-3-small", "")
	require.Error(t, err)

	var badReq *EmbedderBadRequestError
	assert.ErrorAs(t, err, &badReq)
}

func TestEmbedder_NoKeyConfigured(t *testing.T) {
	e := NewEmbedder(config.EmbedderConfig{BaseURL: "http://localhost:1", Timeout: 1})

	_, err := e.EmbedBatch(context.Background(), []string{"x"}, "text-embedding-3-small", "")
	require.Error(t, err)

	var authErr *EmbedderAuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestModelDimension(t *testing.T) {
	assert.Equal(t, 1536, ModelDimension("text-embedding-3-small"))
	assert.Equal(t, 1536, ModelDimension("text-embedding-ada-002"))
	assert.Equal(t, 3072, ModelDimension("text-embedding-3-large"))
}
