package service

import (
	"context"

	"datamarket/internal/core/domain"
	"datamarket/internal/core/ports"

	"github.com/rs/zerolog"
)

type auditService struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

// NewAuditService creates a new audit service.
// If repo is nil, audit entries are only written to the logger.
func NewAuditService(repo ports.AuditRepository, log zerolog.Logger) ports.AuditService {
	return &auditService{repo: repo, log: log}
}

// Log records an audit entry asynchronously (fire-and-forget).
// The request context is detached so persistence outlives the response.
func (s *auditService) Log(ctx context.Context, entry *domain.AuditLog) {
	e := *entry
	bg := context.WithoutCancel(ctx)
	go func() {
		ev := s.log.Info().
			Str("action", string(e.Action)).
			Str("resource_type", e.ResourceType).
			Str("resource_id", e.ResourceID).
			Str("ip", e.IPAddress)
		if e.UserID != nil {
			ev = ev.Str("user_id", e.UserID.String())
		}
		ev.Msg("audit")

		if s.repo != nil {
			if err := s.repo.Create(bg, &e); err != nil {
				s.log.Warn().Err(err).Str("action", string(e.Action)).Msg("failed to persist audit log")
			}
		}
	}()
}
