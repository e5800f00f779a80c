package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corpusvault/corpusvault/config"
	"github.com/corpusvault/corpusvault/services"
)

// Embedder failure classes. Unavailable is retryable by the worker; the
// other two are fatal for the attempt.
type EmbedderUnavailableError struct{ Err error }
type EmbedderBadRequestError struct{ Err error }
type EmbedderAuthError struct{ Err error }

func (e *EmbedderUnavailableError) Error() string { return fmt.Sprintf("embedder unavailable: %v", e.Err) }
func (e *EmbedderUnavailableError) Unwrap() error { return e.Err }

func (e *EmbedderBadRequestError) Error() string { return fmt.Sprintf("embedder bad request: %v", e.Err) }
func (e *EmbedderBadRequestError) Unwrap() error { return e.Err }

func (e *EmbedderAuthError) Error() string { return fmt.Sprintf("embedder auth failed: %v", e.Err) }
func (e *EmbedderAuthError) Unwrap() error { return e.Err }

// modelRate is USD per million tokens. Unknown models bill at the
// small-model rate.
var modelRates = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"text-embedding-ada-002": 0.10,
}

const defaultModelRate = 0.02

// ModelDimension reports the output vector dimension for known models.
func ModelDimension(model string) int {
	if strings.Contains(model, "large") {
		return 3072
	}
	return 1536
}

type embedderImpl struct {
	baseURL      string
	platformKey  string
	maxBatchSize int
	client       *http.Client
}

func NewEmbedder(cfg config.EmbedderConfig) services.Embedder {
	return &embedderImpl{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		platformKey:  cfg.APIKey,
		maxBatchSize: cfg.MaxBatchSize,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (e *embedderImpl) EmbedBatch(ctx context.Context, texts []string, model, apiKey string) (*services.EmbedResult, error) {
	if len(texts) == 0 {
		return &services.EmbedResult{Model: model}, nil
	}
	if apiKey == "" {
		apiKey = e.platformKey
	}
	if apiKey == "" {
		return nil, &EmbedderAuthError{Err: fmt.Errorf("no api key configured")}
	}

	batchSize := e.maxBatchSize
	if batchSize <= 0 {
		batchSize = 256
	}

	result := &services.EmbedResult{
		Model:   model,
		Vectors: make([][]float32, 0, len(texts)),
	}
	totalChars := 0

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		for _, t := range batch {
			totalChars += len(t)
		}

		vectors, tokens, err := e.callOnce(ctx, batch, model, apiKey)
		if err != nil {
			return nil, err
		}
		result.Vectors = append(result.Vectors, vectors...)
		result.TokensUsed += tokens
	}

	// Fall back to the 4-chars-per-token estimate when the provider did not
	// report usage.
	if result.TokensUsed == 0 {
		result.TokensUsed = (totalChars + 3) / 4
	}

	rate, ok := modelRates[model]
	if !ok {
		rate = defaultModelRate
	}
	result.CostUSD = float64(result.TokensUsed) * rate / 1_000_000

	return result, nil
}

func (e *embedderImpl) callOnce(ctx context.Context, texts []string, model, apiKey string) ([][]float32, int, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: model})
	if err != nil {
		return nil, 0, &EmbedderBadRequestError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, &EmbedderBadRequestError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, &EmbedderUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, 0, &EmbedderUnavailableError{Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, &EmbedderAuthError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, 0, &EmbedderUnavailableError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))}
	default:
		return nil, 0, &EmbedderBadRequestError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(respBody, 200))}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, 0, &EmbedderUnavailableError{Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(parsed.Data) != len(texts) {
		return nil, 0, &EmbedderUnavailableError{Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))}
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, 0, &EmbedderUnavailableError{Err: fmt.Errorf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}

	return vectors, parsed.Usage.TotalTokens, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
