package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/providers"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
)

// CachedReferenceAdapter wraps a ReferenceRepository with caching. Keys embed
// the snapshot version so a swapped snapshot never reads stale entries.
type CachedReferenceAdapter struct {
	adapter repositories.ReferenceRepository
	cache   providers.CacheProvider
	metrics *observability.Metrics
}

// NewCachedReferenceAdapter creates a new cached reference adapter
func NewCachedReferenceAdapter(adapter repositories.ReferenceRepository, cache providers.CacheProvider, metrics *observability.Metrics) repositories.ReferenceRepository {
	return &CachedReferenceAdapter{
		adapter: adapter,
		cache:   cache,
		metrics: metrics,
	}
}

// Cache TTLs (in seconds). Snapshots are immutable, so these only bound memory.
const (
	referenceTTL   = 3600
	interactionTTL = 3600
)

func (a *CachedReferenceAdapter) key(kind string, parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return fmt.Sprintf("ref:%s:%s:%s", a.adapter.SnapshotVersion(), kind, strings.Join(parts, "|"))
}

// SnapshotVersion returns the wrapped adapter's active version
func (a *CachedReferenceAdapter) SnapshotVersion() string {
	return a.adapter.SnapshotVersion()
}

func cached[T any](ctx context.Context, a *CachedReferenceAdapter, keyspace, key string, ttl int, load func() (T, error)) (T, error) {
	if data, err := a.cache.Get(ctx, key); err == nil {
		var out T
		if err := json.Unmarshal(data, &out); err == nil {
			observability.RecordCacheHit(ctx, a.metrics, keyspace)
			return out, nil
		}
		log.Warn().Err(err).Str("key", key).Msg("failed to unmarshal cached reference rows")
	}
	observability.RecordCacheMiss(ctx, a.metrics, keyspace)

	out, err := load()
	if err != nil {
		return out, err
	}

	// Update cache asynchronously to avoid blocking the response
	go func() {
		data, err := json.Marshal(out)
		if err != nil {
			return
		}
		if err := a.cache.Set(context.Background(), key, data, ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to cache reference rows")
		}
	}()
	return out, nil
}

// FindAntibiotics retrieves classification rows with caching
func (a *CachedReferenceAdapter) FindAntibiotics(ctx context.Context, filter repositories.AntibioticFilter) ([]*entities.Antibiotic, error) {
	key := a.key("antibiotics", filter.Name, string(filter.Tier), fmt.Sprint(filter.Limit))
	return cached(ctx, a, "antibiotics", key, referenceTTL, func() ([]*entities.Antibiotic, error) {
		return a.adapter.FindAntibiotics(ctx, filter)
	})
}

// FindAntibioticsByNames resolves names from cache in one batch and loads the rest together
func (a *CachedReferenceAdapter) FindAntibioticsByNames(ctx context.Context, names []string) (map[string][]*entities.Antibiotic, error) {
	out := make(map[string][]*entities.Antibiotic, len(names))
	if len(names) == 0 {
		return out, nil
	}

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = a.key("antibiotic", name)
	}
	hits, _ := a.cache.GetMulti(ctx, keys)

	var missing []string
	for i, name := range names {
		if data, ok := hits[keys[i]]; ok {
			var rows []*entities.Antibiotic
			if err := json.Unmarshal(data, &rows); err == nil {
				out[name] = rows
				observability.RecordCacheHit(ctx, a.metrics, "antibiotic")
				continue
			}
		}
		observability.RecordCacheMiss(ctx, a.metrics, "antibiotic")
		missing = append(missing, name)
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := a.adapter.FindAntibioticsByNames(ctx, missing)
	if err != nil {
		return nil, err
	}

	items := make(map[string][]byte, len(loaded))
	for _, name := range missing {
		rows := loaded[name]
		out[name] = rows
		if data, err := json.Marshal(rows); err == nil {
			items[a.key("antibiotic", name)] = data
		}
	}

	go func() {
		if err := a.cache.SetMulti(context.Background(), items, referenceTTL); err != nil {
			log.Warn().Err(err).Msg("failed to batch cache antibiotics")
		}
	}()
	return out, nil
}

// FindSusceptibility retrieves surveillance rows with caching
func (a *CachedReferenceAdapter) FindSusceptibility(ctx context.Context, filter repositories.SusceptibilityFilter) ([]*entities.SusceptibilityRate, error) {
	key := a.key("susceptibility", filter.Species, filter.Antibiotic, filter.Region, fmt.Sprint(filter.MinYear), fmt.Sprint(filter.Limit))
	return cached(ctx, a, "susceptibility", key, referenceTTL, func() ([]*entities.SusceptibilityRate, error) {
		return a.adapter.FindSusceptibility(ctx, filter)
	})
}

// FindBreakpoints retrieves breakpoint rows with caching
func (a *CachedReferenceAdapter) FindBreakpoints(ctx context.Context, pathogen, antibiotic string) ([]*entities.Breakpoint, error) {
	key := a.key("breakpoints", pathogen, antibiotic)
	return cached(ctx, a, "breakpoints", key, referenceTTL, func() ([]*entities.Breakpoint, error) {
		return a.adapter.FindBreakpoints(ctx, pathogen, antibiotic)
	})
}

// FindInteractions retrieves interaction rows with caching. The pair is
// sorted so (A,B) and (B,A) share an entry.
func (a *CachedReferenceAdapter) FindInteractions(ctx context.Context, drugA, drugB string) ([]*entities.DrugInteraction, error) {
	pair := []string{strings.ToLower(drugA), strings.ToLower(drugB)}
	sort.Strings(pair)
	key := a.key("interactions", pair...)
	return cached(ctx, a, "interactions", key, interactionTTL, func() ([]*entities.DrugInteraction, error) {
		return a.adapter.FindInteractions(ctx, drugA, drugB)
	})
}

// FindDosageRules retrieves dosing rows with caching
func (a *CachedReferenceAdapter) FindDosageRules(ctx context.Context, antibiotic string, renal entities.RenalCategory) ([]*entities.DosageRule, error) {
	key := a.key("dosage", antibiotic, string(renal))
	return cached(ctx, a, "dosage", key, referenceTTL, func() ([]*entities.DosageRule, error) {
		return a.adapter.FindDosageRules(ctx, antibiotic, renal)
	})
}
