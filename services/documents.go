package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corpusvault/corpusvault/models"
)

// VectorStore is the tenant-isolated similarity index. One physical table
// exists per supported embedding dimension; the dimension is taken from the
// first chunk of a batch on insert and from the query vector on search.
type VectorStore interface {
	// AddChunks upserts a batch keyed on (document_id, chunk_index),
	// all-or-nothing per call.
	AddChunks(ctx context.Context, customerID, documentID uuid.UUID, chunks []models.ChunkRecord) error

	// Search returns records ordered by descending similarity with
	// score = 1 - cosine_distance clamped to [-1, 1]. Ties break by
	// ascending (document_id, chunk_index).
	Search(ctx context.Context, customerID uuid.UUID, queryVec []float32, opts models.VectorSearchOptions) ([]models.VectorSearchResult, error)

	// GetChunkRange returns chunks with index in [from, to], vectors omitted.
	GetChunkRange(ctx context.Context, customerID, documentID uuid.UUID, from, to int) ([]models.ChunkRecord, error)

	// DeleteDocument removes the document's chunks from every dimension
	// table and returns the count deleted.
	DeleteDocument(ctx context.Context, customerID, documentID uuid.UUID) (int64, error)

	CountChunks(ctx context.Context, customerID, documentID uuid.UUID) (int64, error)
}

// BlobInfo is object metadata from a head call.
type BlobInfo struct {
	Key          string            `json:"key"`
	SizeBytes    int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type"`
	LastModified time.Time         `json:"last_modified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// BlobStore is the content-addressed object store for raw document bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (*BlobInfo, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)

	// PresignGet issues a read URL; ttl is capped at one hour.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ParseResult is the normalized output of every parser.
type ParseResult struct {
	Content        string  `json:"content"`
	CharacterCount int     `json:"character_count"`
	WordCount      int     `json:"word_count"`
	PageCount      *int    `json:"page_count,omitempty"`
	Title          *string `json:"title,omitempty"`
	Author         *string `json:"author,omitempty"`
}

// Parser turns raw document bytes into normalized text. Parse failures are
// always fatal for the document.
type Parser interface {
	Parse(docType models.DocumentType, data []byte) (*ParseResult, error)
}

// EmbedResult carries the vectors for one batch plus token accounting.
type EmbedResult struct {
	Vectors    [][]float32 `json:"-"`
	Model      string      `json:"model"`
	TokensUsed int         `json:"tokens_used"`
	CostUSD    float64     `json:"cost_usd"`
}

// Embedder is the opaque external embedding provider.
type Embedder interface {
	// EmbedBatch embeds texts with the given model. apiKey "" means the
	// platform key.
	EmbedBatch(ctx context.Context, texts []string, model, apiKey string) (*EmbedResult, error)
}

// Reranker re-orders candidate passages for a query. Optional; a nil
// reranker disables the rerank path.
type Reranker interface {
	// Rerank returns indices into passages, best first.
	Rerank(ctx context.Context, query string, passages []string) ([]int, error)
}

// DocumentService owns the document lifecycle: intake validation, catalog
// rows, blob placement, enqueueing, and terminal-state transitions.
type DocumentService interface {
	CreateFromUpload(ctx context.Context, customer *models.Customer, filename, title string, data []byte) (*models.Document, error)
	CreateFromURL(ctx context.Context, customer *models.Customer, sourceURL, title string) (*models.Document, error)

	List(ctx context.Context, customerID uuid.UUID, filter models.DocumentListFilter) (*models.DocumentListResponse, error)
	Get(ctx context.Context, customerID, documentID uuid.UUID) (*models.Document, error)
	Stats(ctx context.Context, customerID uuid.UUID) (*models.DocumentStats, error)

	// Delete removes vectors, blob and catalog row. All three are attempted;
	// a partial failure leaves the row in place for retry.
	Delete(ctx context.Context, customerID, documentID uuid.UUID) error

	PresignDownload(ctx context.Context, customerID, documentID uuid.UUID, ttl time.Duration) (string, error)

	// Worker-side terminal transitions; monotonic within an attempt.
	MarkCompleted(ctx context.Context, documentID uuid.UUID, stats CompletionStats) error
	MarkFailed(ctx context.Context, documentID uuid.UUID, message string) error
}

// CompletionStats summarizes a finished ingestion attempt.
type CompletionStats struct {
	ChunkCount       int     `json:"chunk_count"`
	CharacterCount   int     `json:"character_count"`
	PageCount        *int    `json:"page_count,omitempty"`
	EmbeddingTokens  int     `json:"embedding_tokens"`
	EmbeddingCostUSD float64 `json:"embedding_cost_usd"`
	ProcessingTimeMs int     `json:"processing_time_ms"`
}

// SearchService embeds a query with the tenant's model and key, runs the
// vector search and joins document metadata plus optional context expansion.
type SearchService interface {
	Search(ctx context.Context, customer *models.Customer, req SearchParams) ([]models.SearchHit, error)
}

// SearchParams is the full search surface shared by REST and MCP.
type SearchParams struct {
	Query           string     `json:"query"`
	Limit           int        `json:"limit"`
	DocumentID      *uuid.UUID `json:"document_id,omitempty"`
	MinScore        float64    `json:"min_score"`
	ContextChunks   int        `json:"context_chunks"`
	Rerank          bool       `json:"rerank"`
	GroupByDocument bool       `json:"group_by_document"`
}
