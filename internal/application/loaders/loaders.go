package loaders

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/zatekoja/amrguard/internal/domain/entities"
	"github.com/zatekoja/amrguard/internal/domain/repositories"
)

type ctxKey string

const loadersKey ctxKey = "dataloaders"

// Loaders batches reference lookups made while one pipeline run is in
// flight. A fresh set is attached per run so cached rows never outlive it.
type Loaders struct {
	AntibioticLoader *dataloader.Loader[string, []*entities.Antibiotic]
}

// NewLoaders creates a new instance of Loaders
func NewLoaders(referenceRepo repositories.ReferenceRepository) *Loaders {
	return &Loaders{
		AntibioticLoader: dataloader.NewBatchedLoader(func(ctx context.Context, keys []string) []*dataloader.Result[[]*entities.Antibiotic] {
			results := make([]*dataloader.Result[[]*entities.Antibiotic], len(keys))
			rows, err := referenceRepo.FindAntibioticsByNames(ctx, keys)

			for i, key := range keys {
				if err != nil {
					results[i] = &dataloader.Result[[]*entities.Antibiotic]{Error: err}
				} else {
					// An unknown name resolves to no rows, not an error
					results[i] = &dataloader.Result[[]*entities.Antibiotic]{Data: rows[key]}
				}
			}
			return results
		}),
	}
}

// For returns the loaders for a given context, or nil when none are attached
func For(ctx context.Context) *Loaders {
	l, _ := ctx.Value(loadersKey).(*Loaders)
	return l
}

// WithLoaders returns a new context with the loaders attached
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}
