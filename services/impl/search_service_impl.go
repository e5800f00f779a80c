package impl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type searchServiceImpl struct {
	db        *gorm.DB
	vectors   services.VectorStore
	embedder  services.Embedder
	customers services.CustomerService
	reranker  services.Reranker
}

// NewSearchService wires the query path: embed the query with the tenant's
// model and key, run the vector search, join document metadata and expand
// context. The reranker may be nil.
func NewSearchService(db *gorm.DB, vectors services.VectorStore, embedder services.Embedder, customers services.CustomerService, reranker services.Reranker) services.SearchService {
	return &searchServiceImpl{
		db:        db,
		vectors:   vectors,
		embedder:  embedder,
		customers: customers,
		reranker:  reranker,
	}
}

func (s *searchServiceImpl) Search(ctx context.Context, customer *models.Customer, req services.SearchParams) ([]models.SearchHit, error) {
	if apiErr := ValidateSearchParams(&req); apiErr != nil {
		return nil, apiErr
	}

	model := "text-embedding-3-small"
	if customer.Config != nil && customer.Config.EmbeddingModel != "" {
		model = customer.Config.EmbeddingModel
	}

	apiKey, err := s.customers.GetEmbedderKey(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	embedded, err := s.embedder.EmbedBatch(ctx, []string{req.Query}, model, apiKey)
	if err != nil {
		var authErr *EmbedderAuthError
		if errors.As(err, &authErr) {
			return nil, models.NewForbiddenError("Embedder rejected the configured API key")
		}
		var unavailable *EmbedderUnavailableError
		if errors.As(err, &unavailable) {
			return nil, models.NewServiceUnavailableError("Embedding provider unavailable", err)
		}
		return nil, models.NewInternalError(err)
	}
	if len(embedded.Vectors) != 1 {
		return nil, models.NewInternalError(fmt.Errorf("expected 1 query vector, got %d", len(embedded.Vectors)))
	}

	results, err := s.vectors.Search(ctx, customer.ID, embedded.Vectors[0], models.VectorSearchOptions{
		Limit:      req.Limit,
		DocumentID: req.DocumentID,
		MinScore:   req.MinScore,
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(results) == 0 {
		return []models.SearchHit{}, nil
	}

	if req.Rerank && s.reranker != nil {
		results = s.rerank(ctx, req.Query, results)
	}

	docs, err := s.loadDocuments(ctx, customer.ID, results)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, len(results))
	for _, res := range results {
		doc, ok := docs[res.Chunk.DocumentID]
		if !ok {
			continue
		}

		hit := models.SearchHit{
			DocumentID:    res.Chunk.DocumentID,
			DocumentTitle: doc.Title,
			DocType:       doc.DocType,
			Content:       res.Chunk.Content,
			ChunkIndex:    res.Chunk.ChunkIndex,
			StartChar:     res.Chunk.StartChar,
			EndChar:       res.Chunk.EndChar,
			Score:         res.Score,
		}

		if req.ContextChunks > 0 {
			hit.Context = s.expandContext(ctx, customer.ID, res.Chunk, req.ContextChunks)
		}

		hits = append(hits, hit)
	}

	if req.GroupByDocument {
		hits = groupHitsByDocument(hits)
	}

	return hits, nil
}

func (s *searchServiceImpl) rerank(ctx context.Context, query string, results []models.VectorSearchResult) []models.VectorSearchResult {
	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Chunk.Content
	}

	order, err := s.reranker.Rerank(ctx, query, passages)
	if err != nil {
		log.Printf("Rerank failed, keeping vector order: %v", err)
		return results
	}

	reordered := make([]models.VectorSearchResult, 0, len(results))
	seen := make(map[int]bool, len(order))
	for _, idx := range order {
		if idx < 0 || idx >= len(results) || seen[idx] {
			continue
		}
		seen[idx] = true
		reordered = append(reordered, results[idx])
	}
	for i, r := range results {
		if !seen[i] {
			reordered = append(reordered, r)
		}
	}
	return reordered
}

func (s *searchServiceImpl) loadDocuments(ctx context.Context, customerID uuid.UUID, results []models.VectorSearchResult) (map[uuid.UUID]*models.Document, error) {
	idSet := make(map[uuid.UUID]bool, len(results))
	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		if !idSet[r.Chunk.DocumentID] {
			idSet[r.Chunk.DocumentID] = true
			ids = append(ids, r.Chunk.DocumentID)
		}
	}

	var docs []models.Document
	if err := s.db.WithContext(ctx).
		Where("customer_id = ? AND id IN ?", customerID, ids).
		Find(&docs).Error; err != nil {
		return nil, models.NewInternalError(fmt.Errorf("failed to load documents: %w", err))
	}

	byID := make(map[uuid.UUID]*models.Document, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}
	return byID, nil
}

// expandContext pulls up to n chunks on each side of a hit. Document edges
// just return fewer chunks.
func (s *searchServiceImpl) expandContext(ctx context.Context, customerID uuid.UUID, chunk models.ChunkRecord, n int) *models.HitContext {
	from := chunk.ChunkIndex - n
	if from < 0 {
		from = 0
	}
	to := chunk.ChunkIndex + n

	neighbors, err := s.vectors.GetChunkRange(ctx, customerID, chunk.DocumentID, from, to)
	if err != nil {
		log.Printf("Context expansion failed for chunk %s: %v", chunk.ID, err)
		return nil
	}

	hitCtx := &models.HitContext{}
	for _, neighbor := range neighbors {
		switch {
		case neighbor.ChunkIndex < chunk.ChunkIndex:
			hitCtx.Before = append(hitCtx.Before, neighbor.Content)
		case neighbor.ChunkIndex > chunk.ChunkIndex:
			hitCtx.After = append(hitCtx.After, neighbor.Content)
		}
	}
	if len(hitCtx.Before) == 0 && len(hitCtx.After) == 0 {
		return nil
	}
	return hitCtx
}

// groupHitsByDocument keeps the best hit per document, ordered by that best
// score.
func groupHitsByDocument(hits []models.SearchHit) []models.SearchHit {
	best := make(map[uuid.UUID]models.SearchHit)
	order := make([]uuid.UUID, 0)
	for _, hit := range hits {
		cur, ok := best[hit.DocumentID]
		if !ok {
			best[hit.DocumentID] = hit
			order = append(order, hit.DocumentID)
			continue
		}
		if hit.Score > cur.Score {
			best[hit.DocumentID] = hit
		}
	}

	grouped := make([]models.SearchHit, 0, len(order))
	for _, id := range order {
		grouped = append(grouped, best[id])
	}
	sort.SliceStable(grouped, func(i, j int) bool {
		return grouped[i].Score > grouped[j].Score
	})
	return grouped
}
