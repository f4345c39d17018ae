package typesense

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
	"github.com/zatekoja/amrguard/pkg/config"
	"github.com/zatekoja/amrguard/pkg/retry"
)

// Client represents a Typesense client
type Client struct {
	client *typesense.Client
	alias  string
	dims   int
}

// NewClient creates a new Typesense client with exponential backoff retry
func NewClient(cfg *config.TypesenseConfig) (*Client, error) {
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)

	err := retry.DoWithLog(
		context.Background(),
		retry.DefaultConfig(),
		"Typesense",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := client.Health(ctx, 2*time.Second)
			return err
		},
		func(attempt int, err error, nextDelay time.Duration) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("Typesense connection attempt failed")
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Typesense after retries: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("connected to Typesense")
	return &Client{client: client, alias: cfg.GuidelineAlias, dims: cfg.EmbeddingDims}, nil
}

// Client returns the underlying Typesense client
func (c *Client) Client() *typesense.Client {
	return c.client
}

// GuidelineAlias is the alias readers query. Ingestion re-points it at a new
// collection to publish a snapshot atomically.
func (c *Client) GuidelineAlias() string {
	return c.alias
}

// GuidelineSchema returns the collection schema for guideline chunks
func GuidelineSchema(name string, dims int) *api.CollectionSchema {
	return &api.CollectionSchema{
		Name: name,
		Fields: []api.Field{
			{Name: "id", Type: "string"},
			{Name: "text", Type: "string"},
			{Name: "collection", Type: "string", Facet: pointer.True()},
			{Name: "source", Type: "string", Facet: pointer.True()},
			{Name: "category", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "pathogen_type", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "page", Type: "int32", Optional: pointer.True()},
			{Name: "year", Type: "int32"},
			{Name: "embedding", Type: "float[]", NumDim: pointer.Int(dims)},
		},
		DefaultSortingField: pointer.String("year"),
	}
}

// InitSchema makes sure the guideline alias resolves to a collection. An
// existing alias is left untouched.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := c.client.Alias(c.alias).Retrieve(ctx); err == nil {
		log.Info().Str("alias", c.alias).Msg("Typesense guideline alias already exists")
		return nil
	}

	name := fmt.Sprintf("%s_%d", c.alias, time.Now().Unix())
	if _, err := c.client.Collections().Create(ctx, GuidelineSchema(name, c.dims)); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	if _, err := c.client.Aliases().Upsert(ctx, c.alias, &api.CollectionAliasSchema{CollectionName: name}); err != nil {
		return fmt.Errorf("failed to point alias %s at %s: %w", c.alias, name, err)
	}

	log.Info().Str("alias", c.alias).Str("collection", name).Msg("created Typesense guideline collection")
	return nil
}
