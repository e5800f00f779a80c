package impl

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

const (
	dim1536 = 1536
	dim3072 = 3072
)

type vectorStoreImpl struct {
	db *gorm.DB
}

func NewVectorStore(db *gorm.DB) services.VectorStore {
	return &vectorStoreImpl{db: db}
}

// tableForDim routes a vector dimension to its physical table.
func tableForDim(dim int) (string, error) {
	switch dim {
	case dim1536:
		return models.DocumentChunk{}.TableName(), nil
	case dim3072:
		return models.DocumentChunk3072{}.TableName(), nil
	default:
		return "", fmt.Errorf("unsupported embedding dimension %d", dim)
	}
}

func (s *vectorStoreImpl) AddChunks(ctx context.Context, customerID, documentID uuid.UUID, chunks []models.ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}

	dim := len(chunks[0].Embedding)
	for i, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("chunk %d has dimension %d, batch is %d", i, len(c.Embedding), dim)
		}
	}

	onConflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "embedding", "start_char", "end_char", "title",
		}),
	}

	switch dim {
	case dim1536:
		rows := make([]models.DocumentChunk, len(chunks))
		for i, c := range chunks {
			rows[i] = models.DocumentChunk{
				ID:         fmt.Sprintf("%s_%d", documentID, c.ChunkIndex),
				CustomerID: customerID,
				DocumentID: documentID,
				Content:    c.Content,
				Embedding:  pgvector.NewVector(c.Embedding),
				ChunkIndex: c.ChunkIndex,
				StartChar:  c.StartChar,
				EndChar:    c.EndChar,
				Title:      c.Title,
			}
		}
		if err := s.db.WithContext(ctx).Clauses(onConflict).CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
	case dim3072:
		rows := make([]models.DocumentChunk3072, len(chunks))
		for i, c := range chunks {
			rows[i] = models.DocumentChunk3072{
				ID:         fmt.Sprintf("%s_%d", documentID, c.ChunkIndex),
				CustomerID: customerID,
				DocumentID: documentID,
				Content:    c.Content,
				Embedding:  pgvector.NewVector(c.Embedding),
				ChunkIndex: c.ChunkIndex,
				StartChar:  c.StartChar,
				EndChar:    c.EndChar,
				Title:      c.Title,
			}
		}
		if err := s.db.WithContext(ctx).Clauses(onConflict).CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
	default:
		return fmt.Errorf("unsupported embedding dimension %d", dim)
	}

	return nil
}

type searchRow struct {
	ID         string
	CustomerID uuid.UUID
	DocumentID uuid.UUID
	Content    string
	ChunkIndex int
	StartChar  int
	EndChar    int
	Title      *string
	Similarity float64
}

func (s *vectorStoreImpl) Search(ctx context.Context, customerID uuid.UUID, queryVec []float32, opts models.VectorSearchOptions) ([]models.VectorSearchResult, error) {
	table, err := tableForDim(len(queryVec))
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vec := pgvector.NewVector(queryVec)

	query := fmt.Sprintf(`
		SELECT id, customer_id, document_id, content, chunk_index,
		       start_char, end_char, title,
		       1 - (embedding <=> ?) AS similarity
		FROM %s
		WHERE customer_id = ?`, table)
	args := []interface{}{vec, customerID}

	if opts.DocumentID != nil {
		query += " AND document_id = ?"
		args = append(args, *opts.DocumentID)
	}
	if opts.MinScore > 0 {
		query += " AND 1 - (embedding <=> ?) >= ?"
		args = append(args, vec, opts.MinScore)
	}

	query += `
		ORDER BY embedding <=> ?, document_id ASC, chunk_index ASC
		LIMIT ?`
	args = append(args, vec, limit)

	var rows []searchRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	results := make([]models.VectorSearchResult, 0, len(rows))
	for _, row := range rows {
		score := row.Similarity
		if score > 1 {
			score = 1
		}
		if score < -1 {
			score = -1
		}
		results = append(results, models.VectorSearchResult{
			Chunk: models.ChunkRecord{
				ID:         row.ID,
				CustomerID: row.CustomerID,
				DocumentID: row.DocumentID,
				Content:    row.Content,
				ChunkIndex: row.ChunkIndex,
				StartChar:  row.StartChar,
				EndChar:    row.EndChar,
				Title:      row.Title,
			},
			Score: score,
		})
	}

	return results, nil
}

func (s *vectorStoreImpl) GetChunkRange(ctx context.Context, customerID, documentID uuid.UUID, from, to int) ([]models.ChunkRecord, error) {
	if from < 0 {
		from = 0
	}
	if to < from {
		return nil, nil
	}

	var records []models.ChunkRecord
	for _, table := range []string{models.DocumentChunk{}.TableName(), models.DocumentChunk3072{}.TableName()} {
		var rows []searchRow
		query := fmt.Sprintf(`
			SELECT id, customer_id, document_id, content, chunk_index,
			       start_char, end_char, title
			FROM %s
			WHERE customer_id = ? AND document_id = ? AND chunk_index BETWEEN ? AND ?
			ORDER BY chunk_index ASC`, table)
		if err := s.db.WithContext(ctx).Raw(query, customerID, documentID, from, to).Scan(&rows).Error; err != nil {
			return nil, fmt.Errorf("chunk range query failed: %w", err)
		}
		for _, row := range rows {
			records = append(records, models.ChunkRecord{
				ID:         row.ID,
				CustomerID: row.CustomerID,
				DocumentID: row.DocumentID,
				Content:    row.Content,
				ChunkIndex: row.ChunkIndex,
				StartChar:  row.StartChar,
				EndChar:    row.EndChar,
				Title:      row.Title,
			})
		}
		// A document's chunks live in exactly one dimension table.
		if len(records) > 0 {
			break
		}
	}

	return records, nil
}

func (s *vectorStoreImpl) DeleteDocument(ctx context.Context, customerID, documentID uuid.UUID) (int64, error) {
	var total int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("customer_id = ? AND document_id = ?", customerID, documentID).
			Delete(&models.DocumentChunk{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete chunks: %w", res.Error)
		}
		total += res.RowsAffected

		res = tx.Where("customer_id = ? AND document_id = ?", customerID, documentID).
			Delete(&models.DocumentChunk3072{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete chunks: %w", res.Error)
		}
		total += res.RowsAffected

		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

func (s *vectorStoreImpl) CountChunks(ctx context.Context, customerID, documentID uuid.UUID) (int64, error) {
	var count1536, count3072 int64

	if err := s.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("customer_id = ? AND document_id = ?", customerID, documentID).
		Count(&count1536).Error; err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&models.DocumentChunk3072{}).
		Where("customer_id = ? AND document_id = ?", customerID, documentID).
		Count(&count3072).Error; err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}

	return count1536 + count3072, nil
}
