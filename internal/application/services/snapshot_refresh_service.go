package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
)

// SnapshotSource re-reads the active reference snapshot version
type SnapshotSource interface {
	// Refresh swaps in the latest published version and reports whether it changed
	Refresh(ctx context.Context) (version string, changed bool, err error)
}

// SnapshotRefreshService keeps the active reference snapshot current and
// warms the cache for every newly activated version
type SnapshotRefreshService struct {
	source    SnapshotSource
	reference repositories.ReferenceRepository
}

// NewSnapshotRefreshService creates a refresher. reference is the cached
// repository that lookups go through; it may be nil to skip warming.
func NewSnapshotRefreshService(source SnapshotSource, reference repositories.ReferenceRepository) *SnapshotRefreshService {
	return &SnapshotRefreshService{
		source:    source,
		reference: reference,
	}
}

// Refresh polls once. A changed version is warmed before returning.
func (s *SnapshotRefreshService) Refresh(ctx context.Context) (string, error) {
	version, changed, err := s.source.Refresh(ctx)
	if err != nil {
		return version, fmt.Errorf("failed to refresh reference snapshot: %w", err)
	}
	if !changed {
		return version, nil
	}

	log.Ctx(ctx).Info().Str("snapshot_version", version).Msg("reference snapshot activated")
	if err := s.Warm(ctx); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("snapshot_version", version).Msg("failed to warm reference cache")
	}
	return version, nil
}

// Warm loads the classification rows of each stewardship tier so the first
// runs against a new snapshot hit the cache
func (s *SnapshotRefreshService) Warm(ctx context.Context) error {
	if s.reference == nil {
		return nil
	}
	total := 0
	for _, tier := range []entities.StewardshipTier{entities.TierAccess, entities.TierWatch, entities.TierReserve} {
		rows, err := s.reference.FindAntibiotics(ctx, repositories.AntibioticFilter{Tier: tier})
		if err != nil {
			return fmt.Errorf("failed to warm %s antibiotics: %w", tier, err)
		}
		total += len(rows)
	}
	log.Ctx(ctx).Debug().Int("antibiotics", total).Str("snapshot_version", s.reference.SnapshotVersion()).Msg("warmed reference cache")
	return nil
}

// Start refreshes once, then polls every interval until ctx is done. The
// returned channel closes when the polling goroutine has exited.
func (s *SnapshotRefreshService) Start(ctx context.Context, interval time.Duration) <-chan struct{} {
	logger := log.Ctx(ctx)
	if _, err := s.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial reference snapshot refresh failed")
	}

	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("stopping reference snapshot refresher")
				return
			case <-ticker.C:
				if _, err := s.Refresh(ctx); err != nil {
					logger.Warn().Err(err).Msg("periodic reference snapshot refresh failed")
				}
			}
		}
	}()
	logger.Info().Dur("interval", interval).Msg("started reference snapshot refresher")
	return done
}
