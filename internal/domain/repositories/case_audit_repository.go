package repositories

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// CaseAuditRepository persists finished case records for audit. Stored
// records are never read back into pipeline decisions.
type CaseAuditRepository interface {
	Save(ctx context.Context, record *entities.CaseRecord) error
	GetByRunID(ctx context.Context, runID string) (*entities.CaseRecord, error)
}
