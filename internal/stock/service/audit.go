package service

import (
	"context"
	"encoding/json"

	"github.com/pharmaflow/pharmaflow-backend/internal/stock/domain"
	"github.com/pharmaflow/pharmaflow-backend/pkg/actor"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
)

// AuditService appends to the audit trail. Entries are written after the
// audited change committed; a failed write is logged, never returned.
type AuditService struct {
	repo   AuditTrailRepository
	logger *logger.Logger
}

// NewAuditService creates a new audit service
func NewAuditService(repo AuditTrailRepository, log *logger.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: log.WithComponent("audit"),
	}
}

// Record appends one entry. A nil service records nothing.
func (s *AuditService) Record(ctx context.Context, entityType, entityID, action string, details map[string]interface{}) {
	if s == nil {
		return
	}
	entry := &domain.AuditEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		OperatorID: actor.OperatorID(ctx),
	}

	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			s.logger.Error().Err(err).Str("entity_type", entityType).Msg("failed to marshal audit details")
		} else {
			str := string(raw)
			entry.Details = &str
		}
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error().
			Err(err).
			Str("entity_type", entityType).
			Str("entity_id", entityID).
			Str("action", action).
			Msg("failed to write audit entry")
	}
}

// ListByEntity lists the entries of one entity, oldest first.
func (s *AuditService) ListByEntity(ctx context.Context, entityType, entityID string) ([]domain.AuditEntry, error) {
	return s.repo.ListByEntity(ctx, entityType, entityID)
}
