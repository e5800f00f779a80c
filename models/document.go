package models

import (
	"time"

	"github.com/google/uuid"
)

type DocumentStatus string
type DocumentType string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"

	DocumentTypePDF  DocumentType = "pdf"
	DocumentTypeTXT  DocumentType = "txt"
	DocumentTypeHTML DocumentType = "html"
	DocumentTypeMD   DocumentType = "md"
)

type Document struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CustomerID uuid.UUID `json:"customer_id" gorm:"type:uuid;not null;index:idx_documents_customer;index:idx_documents_customer_hash,unique,where:content_hash IS NOT NULL"`

	Title     string       `json:"title" gorm:"type:varchar(512);not null"`
	DocType   DocumentType `json:"doc_type" gorm:"type:varchar(10);not null"`
	SourceURL *string      `json:"source_url,omitempty" gorm:"type:text"`

	// BlobKey is the authoritative object-store pointer; set on every
	// successful upload, empty for scraped URLs.
	BlobKey     *string `json:"blob_key,omitempty" gorm:"type:text"`
	ContentHash *string `json:"content_hash,omitempty" gorm:"type:varchar(64);index:idx_documents_customer_hash,unique,where:content_hash IS NOT NULL"`
	SizeBytes   int64   `json:"size_bytes" gorm:"default:0"`

	Status DocumentStatus `json:"status" gorm:"type:varchar(20);not null;default:'processing'"`

	ChunkCount          int     `json:"chunk_count" gorm:"default:0"`
	CharacterCount      int     `json:"character_count" gorm:"default:0"`
	PageCount           *int    `json:"page_count,omitempty"`
	EmbeddingTokensUsed int     `json:"embedding_tokens_used" gorm:"default:0"`
	EmbeddingCostUSD    float64 `json:"embedding_cost_usd" gorm:"type:decimal(10,6);default:0"`
	ProcessingTimeMs    int     `json:"processing_time_ms" gorm:"default:0"`
	ErrorMessage        *string `json:"error_message,omitempty" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null;default:now()"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:now()"`
}

func (Document) TableName() string {
	return "documents"
}

// DetectDocumentType maps a filename extension to a document type. Unknown
// extensions are rejected before anything is enqueued.
func DetectDocumentType(filename string) (DocumentType, bool) {
	dot := -1
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			dot = i
			break
		}
		if filename[i] == '/' || filename[i] == '\\' {
			break
		}
	}
	if dot < 0 {
		return "", false
	}

	switch lower(filename[dot+1:]) {
	case "pdf":
		return DocumentTypePDF, true
	case "htm", "html":
		return DocumentTypeHTML, true
	case "txt":
		return DocumentTypeTXT, true
	case "md", "markdown":
		return DocumentTypeMD, true
	default:
		return "", false
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

type DocumentListFilter struct {
	Status  *DocumentStatus `json:"status"`
	DocType *DocumentType   `json:"doc_type"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
}

type DocumentListResponse struct {
	Documents []Document `json:"documents"`
	Total     int64      `json:"total"`
	Page      int        `json:"page"`
	Limit     int        `json:"limit"`
}

// DocumentStats aggregates per-status and per-type counts for a customer.
type DocumentStats struct {
	TotalDocuments      int64            `json:"total_documents"`
	TotalChunks         int64            `json:"total_chunks"`
	TotalSizeBytes      int64            `json:"total_size_bytes"`
	TotalEmbeddingCost  float64          `json:"total_embedding_cost_usd"`
	CountsByStatus      map[string]int64 `json:"counts_by_status"`
	CountsByType        map[string]int64 `json:"counts_by_type"`
}

type IngestURLRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
}

type SearchRequest struct {
	Query      string  `json:"query" binding:"required"`
	Limit      int     `json:"limit"`
	DocumentID *string `json:"document_id"`
	MinScore   float64 `json:"min_score"`
}
