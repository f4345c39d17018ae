package providers

import (
	"context"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// DocumentExtractor turns a culture report into a normalised lab extract.
// Unreadable input is reported as an UNREADABLE_DOCUMENT AppError.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*entities.LabExtract, error)
}
