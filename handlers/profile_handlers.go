package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type ProfileHandlers struct {
	customers services.CustomerService
	usage     services.UsageTracker
}

func NewProfileHandlers(customers services.CustomerService, usage services.UsageTracker) *ProfileHandlers {
	return &ProfileHandlers{customers: customers, usage: usage}
}

func (h *ProfileHandlers) GetProfile(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"customer": customer,
		"config":   customer.Config,
	})
}

type setEmbedderKeyRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

func (h *ProfileHandlers) SetEmbedderKey(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	var req setEmbedderKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("api_key is required"))
		return
	}

	if err := h.customers.SetEmbedderKey(c.Request.Context(), customer.ID, req.APIKey); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Embedder key updated"})
}

func (h *ProfileHandlers) RemoveEmbedderKey(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	if err := h.customers.RemoveEmbedderKey(c.Request.Context(), customer.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Embedder key removed"})
}

func (h *ProfileHandlers) EmbedderKeyStatus(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	status, err := h.customers.GetEmbedderKeyStatus(c.Request.Context(), customer.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *ProfileHandlers) RegenerateAPIKey(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	apiKey, err := h.customers.RegenerateAPIKey(c.Request.Context(), customer.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	// The new key is shown exactly once.
	c.JSON(http.StatusOK, gin.H{"api_key": apiKey})
}

func (h *ProfileHandlers) UsageSummary(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if raw := c.Query("from"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			from = parsed
		}
	}
	if raw := c.Query("to"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			to = parsed
		}
	}

	summary, err := h.usage.Summary(c.Request.Context(), customer.ID, from, to)
	if err != nil {
		respondError(c, models.AsAPIError(err))
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *ProfileHandlers) UsageMetrics(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	metricType := models.MetricType(c.Query("type"))
	switch metricType {
	case models.MetricAPICall, models.MetricEmbeddingTokens, models.MetricStorageBytes,
		models.MetricDocumentProcessed, models.MetricSearchQuery:
	default:
		respondError(c, models.NewValidationError("unknown metric type"))
		return
	}

	to := time.Now()
	from := to.AddDate(0, -1, 0)
	if raw := c.Query("from"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			from = parsed
		}
	}
	if raw := c.Query("to"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			to = parsed
		}
	}

	metrics, err := h.usage.Metrics(c.Request.Context(), customer.ID, metricType, from, to)
	if err != nil {
		respondError(c, models.AsAPIError(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"metrics": metrics, "count": len(metrics)})
}
