package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/corpusvault/corpusvault/models"
	"github.com/corpusvault/corpusvault/services"
)

type AuthHandlers struct {
	customers services.CustomerService
	tokens    services.TokenService
}

func NewAuthHandlers(customers services.CustomerService, tokens services.TokenService) *AuthHandlers {
	return &AuthHandlers{customers: customers, tokens: tokens}
}

func (h *AuthHandlers) Signup(c *gin.Context) {
	var req models.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("email and password are required"))
		return
	}

	customer, err := h.customers.Signup(c.Request.Context(), req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, models.SignupResponse{
		Customer: customer,
		Message:  "Account created, check your email to verify the address",
	})
}

func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("email and password are required"))
		return
	}

	resp, err := h.customers.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("refreshToken is required"))
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, pair)
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	var req models.LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("refreshToken is required"))
		return
	}

	if err := h.tokens.RevokeOne(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (h *AuthHandlers) LogoutAll(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	if err := h.tokens.RevokeAll(c.Request.Context(), customer.ID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out everywhere"})
}

func (h *AuthHandlers) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if err := h.customers.VerifyEmail(c.Request.Context(), token); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email verified"})
}

func (h *AuthHandlers) ResendVerification(c *gin.Context) {
	var req models.ResendVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, models.NewValidationError("email is required"))
		return
	}

	if err := h.customers.ResendVerification(c.Request.Context(), req.Email, c.ClientIP(), c.Request.UserAgent()); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "If the account exists, a verification email has been sent"})
}

func (h *AuthHandlers) Me(c *gin.Context) {
	customer, ok := mustCustomer(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{"customer": customer})
}
