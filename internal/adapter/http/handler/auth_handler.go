package handler

import (
	"net/http"

	"datamarket/internal/adapter/http/dto"
	"datamarket/internal/adapter/http/middleware"
	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"
	"datamarket/pkg/apperror"
	"datamarket/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthHandler handles wallet login and signup endpoints.
type AuthHandler struct {
	authSvc ports.AuthService
	userSvc ports.UserService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc ports.AuthService, userSvc ports.UserService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, userSvc: userSvc}
}

// Challenge handles POST /api/v1/auth/challenge.
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req dto.ChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	ch, err := h.authSvc.IssueChallenge(c.Request.Context(), req.WalletAddress)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.ChallengeResponse{
		Nonce:          ch.Nonce,
		SignupRequired: ch.SignupRequired,
	})
}

// Verify handles POST /api/v1/auth/verify.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	token, expiry, err := h.authSvc.VerifyChallenge(c.Request.Context(), ports.VerifyRequest{
		WalletAddress: req.WalletAddress,
		Signature:     req.Signature,
		Key:           req.Key,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxAuditResourceID, req.WalletAddress)
	response.OK(c, dto.LoginResponse{
		Token:  token,
		Expiry: expiry.Unix(),
	})
}

// Signup handles POST /api/v1/auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req dto.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	user, err := h.userSvc.Signup(c.Request.Context(), ports.SignupRequest{
		WalletAddress: req.WalletAddress,
		Role:          domain.UserRole(req.Role),
		Profile: domain.Profile{
			Name:       req.Profile.Name,
			Age:        req.Profile.Age,
			Institute:  req.Profile.Institute,
			Email:      req.Profile.Email,
			Address:    req.Profile.Address,
			City:       req.Profile.City,
			PostalCode: req.Profile.PostalCode,
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxUserID, user.ID)
	c.Set(middleware.CtxAuditResourceID, user.ID.String())
	response.Created(c, dto.NewUserResponse(user))
}

// HealthCheck handles GET /health, a deep health check verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
