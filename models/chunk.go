package models

import (
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
)

// DocumentChunk is a contiguous passage of a document with its embedding.
// One physical table exists per supported vector dimension; DocumentChunk
// maps the 1536-d table and DocumentChunk3072 the 3072-d one.
type DocumentChunk struct {
	// ID is "{document_id}_{chunk_index}"
	ID         string    `json:"id" gorm:"type:varchar(100);primary_key"`
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;index:idx_chunks_customer_doc"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;not null;index:idx_chunks_customer_doc;uniqueIndex:idx_chunks_doc_index"`

	Content   string          `json:"content" gorm:"type:text;not null"`
	Embedding pgvector.Vector `json:"-" gorm:"type:vector(1536)"`

	ChunkIndex int     `json:"chunk_index" gorm:"not null;uniqueIndex:idx_chunks_doc_index"`
	StartChar  int     `json:"start_char" gorm:"default:0"`
	EndChar    int     `json:"end_char" gorm:"default:0"`
	Title      *string `json:"title,omitempty" gorm:"type:varchar(512)"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (DocumentChunk) TableName() string {
	return "document_chunks"
}

type DocumentChunk3072 struct {
	ID         string    `json:"id" gorm:"type:varchar(100);primary_key"`
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;index:idx_chunks3072_customer_doc"`
	DocumentID uuid.UUID `json:"document_id" gorm:"type:uuid;not null;index:idx_chunks3072_customer_doc;uniqueIndex:idx_chunks3072_doc_index"`

	Content   string          `json:"content" gorm:"type:text;not null"`
	Embedding pgvector.Vector `json:"-" gorm:"type:vector(3072)"`

	ChunkIndex int     `json:"chunk_index" gorm:"not null;uniqueIndex:idx_chunks3072_doc_index"`
	StartChar  int     `json:"start_char" gorm:"default:0"`
	EndChar    int     `json:"end_char" gorm:"default:0"`
	Title      *string `json:"title,omitempty" gorm:"type:varchar(512)"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
}

func (DocumentChunk3072) TableName() string {
	return "document_chunks_3072"
}

// ChunkRecord is the dimension-agnostic shape used by the vector store API.
type ChunkRecord struct {
	ID         string    `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
	ChunkIndex int       `json:"chunk_index"`
	StartChar  int       `json:"start_char"`
	EndChar    int       `json:"end_char"`
	Title      *string   `json:"title,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// VectorSearchOptions configures a tenant-scoped similarity search.
type VectorSearchOptions struct {
	Limit      int        `json:"limit"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	MinScore   float64    `json:"min_score"`
}

// VectorSearchResult is one ranked passage. Score is 1 - cosine_distance,
// clamped to [-1, 1].
type VectorSearchResult struct {
	Chunk ChunkRecord `json:"chunk"`
	Score float64     `json:"score"`
}

// SearchHit is a search result joined with document metadata and optional
// surrounding context, as returned by the search endpoints and MCP tools.
type SearchHit struct {
	DocumentID    uuid.UUID    `json:"document_id"`
	DocumentTitle string       `json:"document_title"`
	DocType       DocumentType `json:"doc_type"`
	Content       string       `json:"content"`
	ChunkIndex    int          `json:"chunk_index"`
	StartChar     int          `json:"start_char"`
	EndChar       int          `json:"end_char"`
	Score         float64      `json:"score"`
	Context       *HitContext  `json:"context,omitempty"`
}

// HitContext carries neighboring chunks around a hit.
type HitContext struct {
	Before []string `json:"before,omitempty"`
	After  []string `json:"after,omitempty"`
}
