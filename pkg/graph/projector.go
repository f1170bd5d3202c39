package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const (
	projectAliasCypher = `
		MERGE (p:Product {id: $product_id})
		SET p.name = $name, p.normalized_name = $normalized_name, p.category = $category, p.brand = $brand
		MERGE (s:Source {id: $source_id})
		MERGE (s)-[l:LISTS {external_key: $external_key}]->(p)
		SET l.raw_name = $raw_name, l.confidence = $confidence, l.match_method = $match_method, l.created_at = $created_at
	`

	projectSourceCypher = `
		MERGE (s:Source {id: $id})
		SET s.name = $name, s.tier = $tier, s.kind = $kind, s.enabled = $enabled
	`

	productSourcesCypher = `
		MATCH (s:Source)-[l:LISTS]->(p:Product {id: $product_id})
		RETURN s.id AS source_id, l.external_key AS external_key, l.raw_name AS raw_name, l.match_method AS match_method
		ORDER BY source_id, external_key
	`
)

// Runner executes cypher. *Client is the production implementation.
type Runner interface {
	Write(ctx context.Context, cypher string, params map[string]any) error
	Read(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

// Projector mirrors products, sources and aliases as (:Source)-[:LISTS]->(:Product).
type Projector struct {
	runner Runner
	logger ectologger.Logger
}

func NewProjector(runner Runner, logger ectologger.Logger) *Projector {
	return &Projector{runner: runner, logger: logger}
}

// ProjectAlias upserts the product, its source and the listing edge.
func (p *Projector) ProjectAlias(ctx context.Context, product models.Product, alias models.ProductAlias) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectAlias")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id":   product.ID,
		"source_id":    alias.SourceID,
		"external_key": alias.ExternalKey,
	})

	var brand any
	if product.Brand != nil {
		brand = *product.Brand
	}

	err := p.runner.Write(ctx, projectAliasCypher, map[string]any{
		"product_id":      product.ID.String(),
		"name":            product.Name,
		"normalized_name": product.NormalizedName,
		"category":        string(product.Category),
		"brand":           brand,
		"source_id":       alias.SourceID,
		"external_key":    alias.ExternalKey,
		"raw_name":        alias.RawName,
		"confidence":      alias.Confidence,
		"match_method":    string(alias.MatchMethod),
		"created_at":      alias.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.WithError(err).Warn("Failed to project alias into graph")
		return fmt.Errorf("failed to project alias into graph: %w", err)
	}

	log.Debug("Projected alias into graph")
	return nil
}

// ProjectSources upserts a Source node per registered source.
func (p *Projector) ProjectSources(ctx context.Context, sources []models.Source) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectSources")
	defer span.End()

	for _, s := range sources {
		err := p.runner.Write(ctx, projectSourceCypher, map[string]any{
			"id":      s.ID,
			"name":    s.Name,
			"tier":    int64(s.Tier),
			"kind":    s.Kind,
			"enabled": s.Enabled,
		})
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("source_id", s.ID).Warn("Failed to project source into graph")
			return fmt.Errorf("failed to project source %s into graph: %w", s.ID, err)
		}
	}
	return nil
}

// SourceListing is one LISTS edge into a product.
type SourceListing struct {
	SourceID    string `json:"source_id"`
	ExternalKey string `json:"external_key"`
	RawName     string `json:"raw_name"`
	MatchMethod string `json:"match_method"`
}

// ProductSources returns the sources that list a product according to the graph.
func (p *Projector) ProductSources(ctx context.Context, productID string) ([]SourceListing, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProductSources")
	defer span.End()

	rows, err := p.runner.Read(ctx, productSourcesCypher, map[string]any{"product_id": productID})
	if err != nil {
		return nil, fmt.Errorf("failed to read product sources from graph: %w", err)
	}

	listings := make([]SourceListing, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, SourceListing{
			SourceID:    stringProp(row, "source_id"),
			ExternalKey: stringProp(row, "external_key"),
			RawName:     stringProp(row, "raw_name"),
			MatchMethod: stringProp(row, "match_method"),
		})
	}
	return listings, nil
}

func stringProp(row map[string]any, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}
