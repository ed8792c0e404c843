package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type auditTarget struct {
	action       domain.AuditAction
	resourceType string
	param        string // route param used as resource ID, if any
}

// auditedRoutes maps "METHOD route-template" to the action it records.
var auditedRoutes = map[string]auditTarget{
	"POST /api/v1/auth/signup":                     {domain.AuditActionSignup, "user", ""},
	"POST /api/v1/auth/verify":                     {domain.AuditActionLogin, "session", ""},
	"PUT /api/v1/users/me/identity":                {domain.AuditActionIdentity, "user", ""},
	"POST /api/v1/transactions/purchase":           {domain.AuditActionPurchase, "transaction", ""},
	"POST /api/v1/transactions/rate":               {domain.AuditActionRate, "transaction", ""},
	"GET /api/v1/transactions/download/:datasetId": {domain.AuditActionDownload, "dataset", "datasetId"},
}

// AuditLog creates an audit middleware that records successful requests on
// audited routes. Handlers may name the affected resource via CtxAuditResourceID.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return
		}

		target, ok := auditedRoutes[c.Request.Method+" "+c.FullPath()]
		if !ok {
			return
		}

		var userID *uuid.UUID
		if id, ok := UserID(c); ok {
			userID = &id
		}

		resourceID := c.GetString(CtxAuditResourceID)
		if resourceID == "" && target.param != "" {
			resourceID = c.Param(target.param)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			UserID:       userID,
			Action:       target.action,
			ResourceType: target.resourceType,
			ResourceID:   resourceID,
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}
