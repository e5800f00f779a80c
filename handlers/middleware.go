package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

const customerContextKey = "customer"

// respondError translates the service-layer error taxonomy to HTTP exactly
// once, here at the edge.
func respondError(c *gin.Context, err error) {
	apiErr := models.AsAPIError(err)
	if apiErr.Kind == models.ErrInternal {
		log.Printf("Internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, apiErr.Cause)
	}
	if apiErr.RetryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", apiErr.RetryAfter))
	}
	c.JSON(apiErr.Status(), apiErr)
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// JWTAuth verifies the bearer access token and stores the customer in the
// request context.
func JWTAuth(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondError(c, models.NewAuthError("Missing bearer token"))
			c.Abort()
			return
		}

		customer, err := tokens.VerifyAccessToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(customerContextKey, customer)
		c.Next()
	}
}

// APIKeyAuth authenticates MCP clients by tenant API key.
func APIKeyAuth(customers services.CustomerService) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := bearerToken(c)
		if apiKey == "" {
			respondError(c, models.NewAuthError("Missing API key"))
			c.Abort()
			return
		}

		customer, err := customers.GetCustomerByAPIKey(c.Request.Context(), apiKey)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(customerContextKey, customer)
		c.Next()
	}
}

// RateLimit runs after auth and enforces the per-customer windows. Limits
// come from the customer config, falling back to the provided defaults.
func RateLimit(limiter services.RateLimiter, defaultPerMinute, defaultPerDay int) gin.HandlerFunc {
	return func(c *gin.Context) {
		customer := currentCustomer(c)
		if customer == nil {
			c.Next()
			return
		}

		perMinute, perDay := defaultPerMinute, defaultPerDay
		if customer.Config != nil {
			if customer.Config.RateLimitPerMinute > 0 {
				perMinute = customer.Config.RateLimitPerMinute
			}
			if customer.Config.RateLimitPerDay > 0 {
				perDay = customer.Config.RateLimitPerDay
			}
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}

		decision, err := limiter.Check(c.Request.Context(), customer.ID, endpoint, perMinute, perDay)
		if err != nil {
			// The limiter failing open beats taking the API down with it.
			log.Printf("Rate limit check failed for %s: %v", customer.ID, err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", perMinute))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", decision.ResetEpoch))

		if !decision.Allowed {
			respondError(c, models.NewRateLimitedError("Rate limit exceeded", decision.RetryAfter))
			c.Abort()
			return
		}

		c.Next()
	}
}

func currentCustomer(c *gin.Context) *models.Customer {
	value, exists := c.Get(customerContextKey)
	if !exists {
		return nil
	}
	customer, ok := value.(*models.Customer)
	if !ok {
		return nil
	}
	return customer
}

func mustCustomer(c *gin.Context) (*models.Customer, bool) {
	customer := currentCustomer(c)
	if customer == nil {
		respondError(c, models.NewAuthError("Not authenticated"))
		return nil, false
	}
	return customer, true
}

// RecordAPICall writes an api_call usage metric after the response. Failures
// are logged and swallowed.
func RecordAPICall(usage services.UsageTracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		customer := currentCustomer(c)
		if customer == nil || c.Writer.Status() >= http.StatusInternalServerError {
			return
		}

		metric := &models.UsageMetric{
			CustomerID: customer.ID,
			Type:       models.MetricAPICall,
			Value:      1,
			Metadata: models.MetricMetadata{
				"endpoint": c.FullPath(),
				"status":   c.Writer.Status(),
			},
		}
		go func() {
			if err := usage.Record(context.Background(), metric); err != nil {
				log.Printf("Failed to record api_call metric: %v", err)
			}
		}()
	}
}
