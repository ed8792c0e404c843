package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func awaitAudit(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("audit not called")
	}
}

func TestAuditLog_PurchaseSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	userID := uuid.New()

	done := make(chan struct{})
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionPurchase, log.Action)
			assert.Equal(t, "transaction", log.ResourceType)
			assert.Equal(t, "tx-123", log.ResourceID)
			if assert.NotNil(t, log.UserID) {
				assert.Equal(t, userID, *log.UserID)
			}
			close(done)
		},
	)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/transactions/purchase", func(c *gin.Context) {
		c.Set(CtxUserID, userID)
		c.Set(CtxAuditResourceID, "tx-123")
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/purchase", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	awaitAudit(t, done)
}

func TestAuditLog_DownloadUsesRouteParam(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	datasetID := uuid.New().String()

	done := make(chan struct{})
	mockAudit.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, log *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionDownload, log.Action)
			assert.Equal(t, datasetID, log.ResourceID)
			close(done)
		},
	)

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.GET("/api/v1/transactions/download/:datasetId", func(c *gin.Context) {
		c.String(http.StatusOK, "bytes")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/transactions/download/"+datasetID, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	awaitAudit(t, done)
}

func TestAuditLog_SkipsUnauditedRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	// No expectations - Log should NOT be called

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.GET("/api/v1/transactions/pending", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"items": []string{}})
	})
	r.POST("/api/v1/auth/challenge", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nonce": "1"})
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/v1/transactions/pending", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/auth/challenge", nil),
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAuditLog_SkipsFailedRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockAudit := mocks.NewMockAuditService(ctrl)
	// No expectations - Log should NOT be called for 4xx

	r := gin.New()
	r.Use(AuditLog(mockAudit))
	r.POST("/api/v1/transactions/rate", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": "already rated"})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions/rate", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAuditedRoutes(t *testing.T) {
	tests := []struct {
		key      string
		action   domain.AuditAction
		resource string
	}{
		{"POST /api/v1/auth/signup", domain.AuditActionSignup, "user"},
		{"POST /api/v1/auth/verify", domain.AuditActionLogin, "session"},
		{"PUT /api/v1/users/me/identity", domain.AuditActionIdentity, "user"},
		{"POST /api/v1/transactions/purchase", domain.AuditActionPurchase, "transaction"},
		{"POST /api/v1/transactions/rate", domain.AuditActionRate, "transaction"},
		{"GET /api/v1/transactions/download/:datasetId", domain.AuditActionDownload, "dataset"},
	}

	for _, tc := range tests {
		target, ok := auditedRoutes[tc.key]
		if assert.True(t, ok, tc.key) {
			assert.Equal(t, tc.action, target.action, tc.key)
			assert.Equal(t, tc.resource, target.resourceType, tc.key)
		}
	}
	_, ok := auditedRoutes["POST /unknown"]
	assert.False(t, ok)
}
