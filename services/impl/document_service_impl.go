package impl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type documentServiceImpl struct {
	db      *gorm.DB
	blobs   services.BlobStore
	vectors services.VectorStore
	queue   services.JobQueue
}

func NewDocumentService(db *gorm.DB, blobs services.BlobStore, vectors services.VectorStore, queue services.JobQueue) services.DocumentService {
	return &documentServiceImpl{
		db:      db,
		blobs:   blobs,
		vectors: vectors,
		queue:   queue,
	}
}

// ContentHash is the dedup key: sha256 of the raw bytes, hex-encoded.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func contentTypeFor(docType models.DocumentType) string {
	switch docType {
	case models.DocumentTypePDF:
		return "application/pdf"
	case models.DocumentTypeHTML:
		return "text/html"
	case models.DocumentTypeMD:
		return "text/markdown"
	default:
		return "text/plain"
	}
}

func (s *documentServiceImpl) CreateFromUpload(ctx context.Context, customer *models.Customer, filename, title string, data []byte) (*models.Document, error) {
	docType, ok := models.DetectDocumentType(filename)
	if !ok {
		return nil, models.NewValidationError("unsupported file type, expected pdf, txt, html or md")
	}

	cfg := customer.Config
	if cfg == nil {
		return nil, models.NewInternalError(fmt.Errorf("customer %s has no config", customer.ID))
	}

	if len(data) == 0 {
		return nil, models.NewValidationError("file is empty")
	}
	maxBytes := int64(cfg.MaxFileSizeMB) * 1024 * 1024
	if int64(len(data)) > maxBytes {
		return nil, models.NewValidationError(fmt.Sprintf("file exceeds the %d MB limit", cfg.MaxFileSizeMB))
	}

	var docCount int64
	if err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("customer_id = ?", customer.ID).
		Count(&docCount).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to count documents: %w", err))
	}
	if docCount >= int64(cfg.MaxDocuments) {
		return nil, models.NewForbiddenError(fmt.Sprintf("document quota of %d reached", cfg.MaxDocuments))
	}

	hash := ContentHash(data)
	var existing models.Document
	err := s.db.WithContext(ctx).
		Where("customer_id = ? AND content_hash = ?", customer.ID, hash).
		First(&existing).Error
	if err == nil {
		return nil, models.NewConflictError("An identical document already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewInternalError(fmt.Errorf("failed to check for duplicates: %w", err))
	}

	if title == "" {
		title = filename
	}

	doc := &models.Document{
		ID:          uuid.New(),
		CustomerID:  customer.ID,
		Title:       title,
		DocType:     docType,
		ContentHash: &hash,
		SizeBytes:   int64(len(data)),
		Status:      models.DocumentStatusProcessing,
	}

	blobKey := BlobKey(customer.ID, doc.ID, filename)
	doc.BlobKey = &blobKey

	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to create document: %w", err))
	}

	if err := s.blobs.Put(ctx, blobKey, data, contentTypeFor(docType), map[string]string{
		"customer-id": customer.ID.String(),
		"document-id": doc.ID.String(),
	}); err != nil {
		s.markFailedBestEffort(ctx, doc.ID, "failed to store file")
		return nil, models.NewInternalError(fmt.Errorf("failed to store blob: %w", err))
	}

	job := &models.Job{
		ID:         doc.ID.String(),
		Type:       models.JobProcessDocument,
		CustomerID: customer.ID,
		DocumentID: doc.ID,
		BlobKey:    blobKey,
		Filename:   filename,
		DocType:    docType,
	}
	if _, err := s.queue.Enqueue(ctx, job, 0); err != nil {
		s.markFailedBestEffort(ctx, doc.ID, "failed to enqueue processing job")
		return nil, models.NewInternalError(fmt.Errorf("failed to enqueue job: %w", err))
	}

	return doc, nil
}

func (s *documentServiceImpl) CreateFromURL(ctx context.Context, customer *models.Customer, sourceURL, title string) (*models.Document, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, models.NewValidationError("invalid URL, must be http or https")
	}

	cfg := customer.Config
	if cfg == nil {
		return nil, models.NewInternalError(fmt.Errorf("customer %s has no config", customer.ID))
	}

	var docCount int64
	if err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("customer_id = ?", customer.ID).
		Count(&docCount).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to count documents: %w", err))
	}
	if docCount >= int64(cfg.MaxDocuments) {
		return nil, models.NewForbiddenError(fmt.Sprintf("document quota of %d reached", cfg.MaxDocuments))
	}

	if title == "" {
		title = sourceURL
	}

	doc := &models.Document{
		ID:         uuid.New(),
		CustomerID: customer.ID,
		Title:      title,
		DocType:    models.DocumentTypeHTML,
		SourceURL:  &sourceURL,
		Status:     models.DocumentStatusProcessing,
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to create document: %w", err))
	}

	job := &models.Job{
		ID:         doc.ID.String(),
		Type:       models.JobScrapeURL,
		CustomerID: customer.ID,
		DocumentID: doc.ID,
		SourceURL:  sourceURL,
	}
	if _, err := s.queue.Enqueue(ctx, job, 0); err != nil {
		s.markFailedBestEffort(ctx, doc.ID, "failed to enqueue scrape job")
		return nil, models.NewInternalError(fmt.Errorf("failed to enqueue job: %w", err))
	}

	return doc, nil
}

func (s *documentServiceImpl) List(ctx context.Context, customerID uuid.UUID, filter models.DocumentListFilter) (*models.DocumentListResponse, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := s.db.WithContext(ctx).Model(&models.Document{}).Where("customer_id = ?", customerID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.DocType != nil {
		query = query.Where("doc_type = ?", *filter.DocType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to count documents: %w", err))
	}

	var docs []models.Document
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&docs).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to list documents: %w", err))
	}

	return &models.DocumentListResponse{
		Documents: docs,
		Total:     total,
		Page:      page,
		Limit:     limit,
	}, nil
}

func (s *documentServiceImpl) Get(ctx context.Context, customerID, documentID uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := s.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", documentID, customerID).
		First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Document not found")
		}
		return nil, models.NewInternalError(fmt.Errorf("failed to load document: %w", err))
	}
	return &doc, nil
}

func (s *documentServiceImpl) Stats(ctx context.Context, customerID uuid.UUID) (*models.DocumentStats, error) {
	stats := &models.DocumentStats{
		CountsByStatus: make(map[string]int64),
		CountsByType:   make(map[string]int64),
	}

	type totalsRow struct {
		Total     int64
		Chunks    int64
		SizeBytes int64
		Cost      float64
	}
	var totals totalsRow
	if err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Select("COUNT(*) AS total, COALESCE(SUM(chunk_count),0) AS chunks, COALESCE(SUM(size_bytes),0) AS size_bytes, COALESCE(SUM(embedding_cost_usd),0) AS cost").
		Where("customer_id = ?", customerID).
		Scan(&totals).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to aggregate documents: %w", err))
	}
	stats.TotalDocuments = totals.Total
	stats.TotalChunks = totals.Chunks
	stats.TotalSizeBytes = totals.SizeBytes
	stats.TotalEmbeddingCost = totals.Cost

	type groupRow struct {
		Key   string
		Count int64
	}

	var byStatus []groupRow
	if err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Select("status AS key, COUNT(*) AS count").
		Where("customer_id = ?", customerID).
		Group("status").
		Scan(&byStatus).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to group by status: %w", err))
	}
	for _, row := range byStatus {
		stats.CountsByStatus[row.Key] = row.Count
	}

	var byType []groupRow
	if err := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Select("doc_type AS key, COUNT(*) AS count").
		Where("customer_id = ?", customerID).
		Group("doc_type").
		Scan(&byType).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to group by type: %w", err))
	}
	for _, row := range byType {
		stats.CountsByType[row.Key] = row.Count
	}

	return stats, nil
}

func (s *documentServiceImpl) Delete(ctx context.Context, customerID, documentID uuid.UUID) error {
	doc, err := s.Get(ctx, customerID, documentID)
	if err != nil {
		return err
	}

	// Cancel any queued processing; a running attempt finishes on its own.
	if err := s.queue.Cancel(ctx, documentID.String()); err != nil {
		log.Printf("Failed to cancel job for document %s: %v", documentID, err)
	}

	// All three stores are attempted. A failure on vectors or blob leaves
	// the row so a retry can finish the cleanup.
	var firstErr error
	if _, err := s.vectors.DeleteDocument(ctx, customerID, documentID); err != nil {
		log.Printf("Failed to delete vectors for document %s: %v", documentID, err)
		firstErr = err
	}
	if doc.BlobKey != nil && *doc.BlobKey != "" {
		if err := s.blobs.Delete(ctx, *doc.BlobKey); err != nil {
			log.Printf("Failed to delete blob for document %s: %v", documentID, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return models.NewInternalError(fmt.Errorf("partial delete of document %s: %w", documentID, firstErr))
	}

	if err := s.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", documentID, customerID).
		Delete(&models.Document{}).Error; err != nil {
		return models.NewInternalError(fmt.Errorf("failed to delete document row: %w", err))
	}

	return nil
}

func (s *documentServiceImpl) PresignDownload(ctx context.Context, customerID, documentID uuid.UUID, ttl time.Duration) (string, error) {
	doc, err := s.Get(ctx, customerID, documentID)
	if err != nil {
		return "", err
	}
	if doc.BlobKey == nil || *doc.BlobKey == "" {
		return "", models.NewNotFoundError("Document has no stored file")
	}

	url, err := s.blobs.PresignGet(ctx, *doc.BlobKey, ttl)
	if err != nil {
		return "", models.NewInternalError(fmt.Errorf("failed to presign download: %w", err))
	}
	return url, nil
}

func (s *documentServiceImpl) MarkCompleted(ctx context.Context, documentID uuid.UUID, stats services.CompletionStats) error {
	updates := map[string]interface{}{
		"status":                models.DocumentStatusCompleted,
		"chunk_count":           stats.ChunkCount,
		"character_count":       stats.CharacterCount,
		"embedding_tokens_used": stats.EmbeddingTokens,
		"embedding_cost_usd":    stats.EmbeddingCostUSD,
		"processing_time_ms":    stats.ProcessingTimeMs,
		"error_message":         nil,
	}
	if stats.PageCount != nil {
		updates["page_count"] = *stats.PageCount
	}

	// Terminal states are monotonic within an attempt.
	result := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ? AND status = ?", documentID, models.DocumentStatusProcessing).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to mark document completed: %w", result.Error)
	}
	return nil
}

func (s *documentServiceImpl) MarkFailed(ctx context.Context, documentID uuid.UUID, message string) error {
	if len(message) > 1000 {
		message = message[:1000]
	}
	result := s.db.WithContext(ctx).
		Model(&models.Document{}).
		Where("id = ? AND status = ?", documentID, models.DocumentStatusProcessing).
		Updates(map[string]interface{}{
			"status":        models.DocumentStatusFailed,
			"error_message": message,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark document failed: %w", result.Error)
	}
	return nil
}

func (s *documentServiceImpl) markFailedBestEffort(ctx context.Context, documentID uuid.UUID, message string) {
	if err := s.MarkFailed(ctx, documentID, message); err != nil {
		log.Printf("Failed to mark document %s failed: %v", documentID, err)
	}
}
