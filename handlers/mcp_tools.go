package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

// toolDef is one entry of the fixed MCP tool catalog.
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func toolCatalog() []toolDef {
	return []toolDef{
		{
			Name:        "search_documents",
			Description: "Semantic search across the tenant's documents. Returns ranked passages with document metadata and scores.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":             map[string]any{"type": "string", "description": "Search query"},
					"limit":             map[string]any{"type": "integer", "description": "Max results (default 10, max 50)"},
					"document_id":       map[string]any{"type": "string", "description": "Restrict to one document"},
					"context_chunks":    map[string]any{"type": "integer", "description": "Neighboring chunks to include, 0-3"},
					"output_format":     map[string]any{"type": "string", "enum": []string{"text", "json"}},
					"rerank":            map[string]any{"type": "boolean"},
					"min_score":         map[string]any{"type": "number", "description": "Minimum similarity score, 0-1"},
					"group_by_document": map[string]any{"type": "boolean"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "list_documents",
			Description: "List the tenant's documents with pagination and filters.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status":   map[string]any{"type": "string", "enum": []string{"processing", "completed", "failed"}},
					"doc_type": map[string]any{"type": "string", "enum": []string{"pdf", "txt", "html", "md"}},
					"limit":    map[string]any{"type": "integer", "description": "Page size (default 50, max 100)"},
					"page":     map[string]any{"type": "integer", "description": "Page number (default 1)"},
				},
			},
		},
		{
			Name:        "get_document",
			Description: "Full metadata for one document, including processing stats.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"document_id": map[string]any{"type": "string"},
				},
				"required": []string{"document_id"},
			},
		},
		{
			Name:        "get_stats",
			Description: "Corpus totals and per-status / per-type document counts.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_document_overview",
			Description: "Evenly spaced chunk samples giving a quick overview of a document.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"document_id": map[string]any{"type": "string"},
					"sample_size": map[string]any{"type": "integer", "description": "Samples to return, 3-10 (default 5)"},
				},
				"required": []string{"document_id"},
			},
		},
		{
			Name:        "compare_documents",
			Description: "Run one query against several documents and return per-document ranked passages.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":                map[string]any{"type": "string"},
					"document_ids":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "2 to 10 document ids"},
					"results_per_document": map[string]any{"type": "integer", "description": "Passages per document (default 3, max 10)"},
				},
				"required": []string{"query", "document_ids"},
			},
		},
	}
}

// toolError distinguishes bad arguments (-32602) from execution failures
// (-32603) at the dispatch layer.
type toolError struct {
	Code    int
	Message string
}

func (e *toolError) Error() string { return e.Message }

func invalidParams(format string, args ...any) *toolError {
	return &toolError{Code: -32602, Message: fmt.Sprintf(format, args...)}
}

// toolRunner executes tools/call for an authenticated tenant.
type toolRunner struct {
	documents services.DocumentService
	search    services.SearchService
	vectors   services.VectorStore
}

func newToolRunner(documents services.DocumentService, search services.SearchService, vectors services.VectorStore) *toolRunner {
	return &toolRunner{documents: documents, search: search, vectors: vectors}
}

// toolContent is the MCP content envelope.
type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func textResult(text string) *toolResult {
	return &toolResult{Content: []toolContent{{Type: "text", Text: text}}}
}

func jsonResult(v any) (*toolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &toolError{Code: -32603, Message: "failed to encode result"}
	}
	return textResult(string(payload)), nil
}

func (r *toolRunner) Call(ctx context.Context, customer *models.Customer, name string, args json.RawMessage) (*toolResult, error) {
	switch name {
	case "search_documents":
		return r.searchDocuments(ctx, customer, args)
	case "list_documents":
		return r.listDocuments(ctx, customer, args)
	case "get_document":
		return r.getDocument(ctx, customer, args)
	case "get_stats":
		return r.getStats(ctx, customer)
	case "get_document_overview":
		return r.getDocumentOverview(ctx, customer, args)
	case "compare_documents":
		return r.compareDocuments(ctx, customer, args)
	default:
		return nil, &toolError{Code: -32602, Message: fmt.Sprintf("unknown tool %q", name)}
	}
}

func decodeArgs(args json.RawMessage, dst any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, dst); err != nil {
		return invalidParams("malformed arguments: %v", err)
	}
	return nil
}

type searchDocumentsArgs struct {
	Query           string  `json:"query"`
	Limit           int     `json:"limit"`
	DocumentID      string  `json:"document_id"`
	ContextChunks   int     `json:"context_chunks"`
	OutputFormat    string  `json:"output_format"`
	Rerank          bool    `json:"rerank"`
	MinScore        float64 `json:"min_score"`
	GroupByDocument bool    `json:"group_by_document"`
}

func (r *toolRunner) searchDocuments(ctx context.Context, customer *models.Customer, raw json.RawMessage) (*toolResult, error) {
	var args searchDocumentsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, invalidParams("query is required")
	}
	if args.Limit < 0 || args.Limit > 50 {
		return nil, invalidParams("limit must be between 1 and 50")
	}
	if args.ContextChunks < 0 || args.ContextChunks > 3 {
		return nil, invalidParams("context_chunks must be between 0 and 3")
	}
	if args.MinScore < 0 || args.MinScore > 1 {
		return nil, invalidParams("min_score must be between 0 and 1")
	}
	if args.OutputFormat != "" && args.OutputFormat != "text" && args.OutputFormat != "json" {
		return nil, invalidParams("output_format must be text or json")
	}

	params := services.SearchParams{
		Query:           args.Query,
		Limit:           args.Limit,
		MinScore:        args.MinScore,
		ContextChunks:   args.ContextChunks,
		Rerank:          args.Rerank,
		GroupByDocument: args.GroupByDocument,
	}
	if args.DocumentID != "" {
		id, err := uuid.Parse(args.DocumentID)
		if err != nil {
			return nil, invalidParams("document_id must be a UUID")
		}
		params.DocumentID = &id
	}

	hits, err := r.search.Search(ctx, customer, params)
	if err != nil {
		return toolFailure(err)
	}

	if args.OutputFormat == "json" {
		return jsonResult(map[string]any{"query": args.Query, "results": hits, "count": len(hits)})
	}

	if len(hits) == 0 {
		return textResult("No matching passages found."), nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d passages for %q:\n\n", len(hits), args.Query)
	for i, hit := range hits {
		fmt.Fprintf(&sb, "%d. [%s] %s (chunk %d, chars %d-%d, score %.3f)\n",
			i+1, hit.DocType, hit.DocumentTitle, hit.ChunkIndex, hit.StartChar, hit.EndChar, hit.Score)
		sb.WriteString(hit.Content)
		sb.WriteString("\n")
		if hit.Context != nil {
			if len(hit.Context.Before) > 0 {
				fmt.Fprintf(&sb, "  (context before: %d chunks)\n", len(hit.Context.Before))
			}
			if len(hit.Context.After) > 0 {
				fmt.Fprintf(&sb, "  (context after: %d chunks)\n", len(hit.Context.After))
			}
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil
}

type listDocumentsArgs struct {
	Status  string `json:"status"`
	DocType string `json:"doc_type"`
	Limit   int    `json:"limit"`
	Page    int    `json:"page"`
}

func (r *toolRunner) listDocuments(ctx context.Context, customer *models.Customer, raw json.RawMessage) (*toolResult, error) {
	var args listDocumentsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Limit < 0 || args.Limit > 100 {
		return nil, invalidParams("limit must be between 1 and 100")
	}
	if args.Limit == 0 {
		args.Limit = 50
	}
	if args.Page == 0 {
		args.Page = 1
	}

	filter := models.DocumentListFilter{Page: args.Page, Limit: args.Limit}
	if args.Status != "" {
		s := models.DocumentStatus(args.Status)
		if s != models.DocumentStatusProcessing && s != models.DocumentStatusCompleted && s != models.DocumentStatusFailed {
			return nil, invalidParams("status must be processing, completed or failed")
		}
		filter.Status = &s
	}
	if args.DocType != "" {
		t := models.DocumentType(args.DocType)
		if t != models.DocumentTypePDF && t != models.DocumentTypeTXT && t != models.DocumentTypeHTML && t != models.DocumentTypeMD {
			return nil, invalidParams("doc_type must be pdf, txt, html or md")
		}
		filter.DocType = &t
	}

	resp, err := r.documents.List(ctx, customer.ID, filter)
	if err != nil {
		return toolFailure(err)
	}

	return jsonResult(resp)
}

type getDocumentArgs struct {
	DocumentID string `json:"document_id"`
}

func (r *toolRunner) getDocument(ctx context.Context, customer *models.Customer, raw json.RawMessage) (*toolResult, error) {
	var args getDocumentArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, invalidParams("document_id is required")
	}
	id, err := uuid.Parse(args.DocumentID)
	if err != nil {
		return nil, invalidParams("document_id must be a UUID")
	}

	doc, err := r.documents.Get(ctx, customer.ID, id)
	if err != nil {
		return toolFailure(err)
	}

	return jsonResult(doc)
}

func (r *toolRunner) getStats(ctx context.Context, customer *models.Customer) (*toolResult, error) {
	stats, err := r.documents.Stats(ctx, customer.ID)
	if err != nil {
		return toolFailure(err)
	}
	return jsonResult(stats)
}

type overviewArgs struct {
	DocumentID string `json:"document_id"`
	SampleSize int    `json:"sample_size"`
}

func (r *toolRunner) getDocumentOverview(ctx context.Context, customer *models.Customer, raw json.RawMessage) (*toolResult, error) {
	var args overviewArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.DocumentID == "" {
		return nil, invalidParams("document_id is required")
	}
	id, err := uuid.Parse(args.DocumentID)
	if err != nil {
		return nil, invalidParams("document_id must be a UUID")
	}
	if args.SampleSize == 0 {
		args.SampleSize = 5
	}
	if args.SampleSize < 3 || args.SampleSize > 10 {
		return nil, invalidParams("sample_size must be between 3 and 10")
	}

	doc, err := r.documents.Get(ctx, customer.ID, id)
	if err != nil {
		return toolFailure(err)
	}
	if doc.ChunkCount == 0 {
		return textResult("Document has no chunks yet."), nil
	}

	indices := sampleIndices(doc.ChunkCount, args.SampleSize)
	samples := make([]map[string]any, 0, len(indices))
	for _, idx := range indices {
		chunks, err := r.vectors.GetChunkRange(ctx, customer.ID, id, idx, idx)
		if err != nil {
			return toolFailure(err)
		}
		if len(chunks) == 0 {
			continue
		}
		samples = append(samples, map[string]any{
			"chunk_index": chunks[0].ChunkIndex,
			"content":     chunks[0].Content,
		})
	}

	return jsonResult(map[string]any{
		"document_id": doc.ID,
		"title":       doc.Title,
		"doc_type":    doc.DocType,
		"chunk_count": doc.ChunkCount,
		"samples":     samples,
	})
}

// sampleIndices returns up to n distinct, evenly spaced indices in
// [0, count).
func sampleIndices(count, n int) []int {
	if n >= count {
		indices := make([]int, count)
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	indices := make([]int, 0, n)
	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		idx := i * (count - 1) / (n - 1)
		if !seen[idx] {
			seen[idx] = true
			indices = append(indices, idx)
		}
	}
	return indices
}

type compareDocumentsArgs struct {
	Query              string   `json:"query"`
	DocumentIDs        []string `json:"document_ids"`
	ResultsPerDocument int      `json:"results_per_document"`
}

func (r *toolRunner) compareDocuments(ctx context.Context, customer *models.Customer, raw json.RawMessage) (*toolResult, error) {
	var args compareDocumentsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if args.Query == "" {
		return nil, invalidParams("query is required")
	}
	if len(args.DocumentIDs) < 2 || len(args.DocumentIDs) > 10 {
		return nil, invalidParams("document_ids must contain between 2 and 10 ids")
	}
	if args.ResultsPerDocument == 0 {
		args.ResultsPerDocument = 3
	}
	if args.ResultsPerDocument < 1 || args.ResultsPerDocument > 10 {
		return nil, invalidParams("results_per_document must be between 1 and 10")
	}

	ids := make([]uuid.UUID, len(args.DocumentIDs))
	for i, rawID := range args.DocumentIDs {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, invalidParams("document_ids[%d] must be a UUID", i)
		}
		ids[i] = id
	}

	perDocument := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		docID := id
		hits, err := r.search.Search(ctx, customer, services.SearchParams{
			Query:      args.Query,
			Limit:      args.ResultsPerDocument,
			DocumentID: &docID,
		})
		if err != nil {
			return toolFailure(err)
		}
		entry := map[string]any{
			"document_id": docID,
			"results":     hits,
		}
		if len(hits) > 0 {
			entry["document_title"] = hits[0].DocumentTitle
		}
		perDocument = append(perDocument, entry)
	}

	return jsonResult(map[string]any{
		"query":     args.Query,
		"documents": perDocument,
	})
}

// toolFailure maps service errors into tool results: client-visible errors
// become isError results, everything else bubbles as -32603.
func toolFailure(err error) (*toolResult, error) {
	apiErr := models.AsAPIError(err)
	switch apiErr.Kind {
	case models.ErrValidation, models.ErrNotFound, models.ErrForbidden, models.ErrRateLimited:
		res := textResult(apiErr.Message)
		res.IsError = true
		return res, nil
	default:
		return nil, &toolError{Code: -32603, Message: "internal error"}
	}
}
