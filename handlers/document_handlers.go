package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type DocumentHandlers struct {
	documents services.DocumentService
	search    services.SearchService
	queue     services.JobQueue
	usage     services.UsageTracker
}

func NewDocumentHandlers(documents services.DocumentService, search services.SearchService, queue services.JobQueue, usage services.UsageTracker) *DocumentHandlers {
	return &DocumentHandlers{
		documents: documents,
		search:    search,
		queue:     queue,
		usage:     usage,
	}
}

func (h *DocumentHandlers) Upload(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondError(c, models.NewValidationError("multipart field 'file' is required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, models.NewValidationError("could not read uploaded file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(c, models.NewInternalError(err))
		return
	}

	title := c.PostForm("title")

	doc, err := h.documents.CreateFromUpload(c.Request.Context(), customer, fileHeader.Filename, title, data)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document": doc,
		"job_id":   doc.ID.String(),
	})
}

func (h *DocumentHandlers) IngestURL(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	var req models.IngestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("url is required"))
		return
	}

	doc, err := h.documents.CreateFromURL(c.Request.Context(), customer, req.URL, req.Title)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"document": doc,
		"job_id":   doc.ID.String(),
	})
}

func (h *DocumentHandlers) List(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	var filter models.DocumentListFilter
	filter.Page = intQuery(c, "page", 1)
	filter.Limit = intQuery(c, "limit", 20)
	if status := c.Query("status"); status != "" {
		s := models.DocumentStatus(status)
		filter.Status = &s
	}
	if docType := c.Query("type"); docType != "" {
		t := models.DocumentType(docType)
		filter.DocType = &t
	}

	resp, err := h.documents.List(c.Request.Context(), customer.ID, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandlers) Stats(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	stats, err := h.documents.Stats(c.Request.Context(), customer.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *DocumentHandlers) Get(c *gin.Context) {
	customer, documentID, ok := h.documentScope(c)
	if !ok {
		return
	}

	doc, err := h.documents.Get(c.Request.Context(), customer.ID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (h *DocumentHandlers) Status(c *gin.Context) {
	customer, documentID, ok := h.documentScope(c)
	if !ok {
		return
	}

	doc, err := h.documents.Get(c.Request.Context(), customer.ID, documentID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"document_id": doc.ID,
		"status":      doc.Status,
	}
	if doc.ErrorMessage != nil {
		resp["error_message"] = *doc.ErrorMessage
	}
	if doc.Status == models.DocumentStatusProcessing {
		if progress, err := h.queue.GetProgress(c.Request.Context(), doc.ID.String()); err == nil && progress != nil {
			resp["stage"] = progress.Stage
			resp["percent"] = progress.Percent
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *DocumentHandlers) Delete(c *gin.Context) {
	customer, documentID, ok := h.documentScope(c)
	if !ok {
		return
	}

	if err := h.documents.Delete(c.Request.Context(), customer.ID, documentID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}

func (h *DocumentHandlers) Download(c *gin.Context) {
	customer, documentID, ok := h.documentScope(c)
	if !ok {
		return
	}

	url, err := h.documents.PresignDownload(c.Request.Context(), customer.ID, documentID, 15*time.Minute)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"download_url": url, "expires_in": int((15 * time.Minute).Seconds())})
}

func (h *DocumentHandlers) Search(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("query is required"))
		return
	}

	params := services.SearchParams{
		Query:    req.Query,
		Limit:    req.Limit,
		MinScore: req.MinScore,
	}
	if req.DocumentID != nil && *req.DocumentID != "" {
		id, err := uuid.Parse(*req.DocumentID)
		if err != nil {
			respondError(c, models.NewValidationError("document_id must be a UUID"))
			return
		}
		params.DocumentID = &id
	}

	hits, err := h.search.Search(c.Request.Context(), customer, params)
	if err != nil {
		respondError(c, err)
		return
	}

	h.recordSearchMetric(customer.ID)

	c.JSON(http.StatusOK, gin.H{
		"query":   req.Query,
		"results": hits,
		"count":   len(hits),
	})
}

func (h *DocumentHandlers) recordSearchMetric(customerID uuid.UUID) {
	metric := &models.UsageMetric{
		CustomerID: customerID,
		Type:       models.MetricSearchQuery,
		Value:      1,
	}
	go func() {
		_ = h.usage.Record(context.Background(), metric)
	}()
}

func (h *DocumentHandlers) documentScope(c *gin.Context) (*models.Customer, uuid.UUID, bool) {
	customer, ok := mustCustomer(c)
	if !ok {
		return nil, uuid.Nil, false
	}

	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, models.NewValidationError("document id must be a UUID"))
		return nil, uuid.Nil, false
	}

	return customer, documentID, true
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
