package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/database"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/tracing"
)

const (
	productsTable = "products"
	aliasesTable  = "product_aliases"
	signalsTable  = "raw_signals"
)

var (
	productStruct = database.NewStruct(new(models.Product))
	aliasStruct   = database.NewStruct(new(models.ProductAlias))
)

// CatalogRepository stores products, aliases and the signal product stamp.
type CatalogRepository struct {
	*Repository
}

func NewCatalogRepository(db database.DB, logger ectologger.Logger) *CatalogRepository {
	return &CatalogRepository{Repository: NewRepository(db, logger)}
}

func (r *CatalogRepository) FindAlias(ctx context.Context, sourceID, externalKey string) (*models.ProductAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.FindAlias")
	defer span.End()

	sb := aliasStruct.SelectFrom(aliasesTable)
	sb.Where(sb.Equal("source_id", sourceID), sb.Equal("external_key", externalKey))

	query, args := sb.Build()
	var alias models.ProductAlias
	err := r.exec(ctx).GetContext(ctx, &alias, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"source_id": sourceID, "external_key": externalKey}, "find alias")
	}
	return &alias, nil
}

// ListCandidates returns every product in category with its alias count.
func (r *CatalogRepository) ListCandidates(ctx context.Context, category models.Category) ([]models.ProductCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.ListCandidates")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("p.id", "p.name", "p.normalized_name", "p.brand", "p.category", "p.subcategory", "p.created_at",
		"COUNT(a.id) AS alias_count").
		From(productsTable + " p").
		JoinWithOption(sqlbuilder.LeftJoin, aliasesTable+" a", "a.product_id = p.id").
		Where(sb.Equal("p.category", category)).
		GroupBy("p.id")

	query, args := sb.Build()
	var candidates []models.ProductCandidate
	if err := r.exec(ctx).SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"category": category}, "list match candidates")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"category":   category,
		"candidates": len(candidates),
	}).Debugf("Listed %s candidates", productsTable)
	return candidates, nil
}

func (r *CatalogRepository) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.GetProduct")
	defer span.End()

	sb := productStruct.SelectFrom(productsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var product models.Product
	err := r.exec(ctx).GetContext(ctx, &product, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("product %s does not exist", id)
	}
	if err != nil {
		return nil, r.internal(ctx, err, map[string]any{"product_id": id}, "get product")
	}
	return &product, nil
}

func (r *CatalogRepository) CreateProduct(ctx context.Context, product *models.Product) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.CreateProduct")
	defer span.End()

	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(productsTable).
		Cols("id", "name", "normalized_name", "brand", "category", "subcategory", "created_at").
		Values(product.ID, product.Name, product.NormalizedName, product.Brand, product.Category, product.Subcategory, product.CreatedAt)

	query, args := ib.Build()
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		if cerr := constraintError(productsTable, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{"product_id": product.ID}, "create product")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"product_id": product.ID,
		"category":   product.Category,
	}).Debugf("Created %s", productsTable)
	return nil
}

// CreateAlias inserts alias unless (source_id, external_key) already exists.
func (r *CatalogRepository) CreateAlias(ctx context.Context, alias *models.ProductAlias) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.CreateAlias")
	defer span.End()

	if alias.ID == uuid.Nil {
		alias.ID = uuid.New()
	}
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(aliasesTable).
		Cols("id", "product_id", "source_id", "external_key", "raw_name", "confidence", "match_method", "confirmed", "created_at").
		Values(alias.ID, alias.ProductID, alias.SourceID, alias.ExternalKey, alias.RawName, alias.Confidence, alias.MatchMethod, alias.Confirmed, alias.CreatedAt).
		OnConflictDoNothing("source_id", "external_key")

	query, args := ib.Build()
	res, err := r.exec(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		if cerr := constraintError(aliasesTable, err); cerr != err {
			return false, cerr
		}
		return false, r.internal(ctx, err, map[string]any{"product_id": alias.ProductID, "source_id": alias.SourceID}, "create alias")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, r.internal(ctx, err, map[string]any{"alias_id": alias.ID}, "create alias")
	}
	return n == 1, nil
}

// StampSignal sets product_id on a signal that has none yet.
func (r *CatalogRepository) StampSignal(ctx context.Context, signalID string, productID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.StampSignal")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(signalsTable).
		Set(ub.Assign("product_id", productID)).
		Where(ub.Equal("id", signalID), ub.IsNull("product_id"))

	query, args := ub.Build()
	if _, err := r.exec(ctx).ExecContext(ctx, query, args...); err != nil {
		if cerr := constraintError(signalsTable, err); cerr != err {
			return cerr
		}
		return r.internal(ctx, err, map[string]any{"signal_id": signalID, "product_id": productID}, "stamp signal")
	}
	return nil
}

// ProductFilter narrows ListProducts.
type ProductFilter struct {
	Category models.Category
	Search   string
	Limit    int
	Offset   int
}

func (r *CatalogRepository) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.ListProducts")
	defer span.End()

	sb := productStruct.SelectFrom(productsTable)
	if filter.Category != "" {
		sb.Where(sb.Equal("category", filter.Category))
	}
	if filter.Search != "" {
		sb.Where(sb.ILike("name", "%"+filter.Search+"%"))
	}
	sb.OrderBy("name").Limit(limitOrDefault(filter.Limit)).Offset(filter.Offset)

	query, args := sb.Build()
	products := []models.Product{}
	if err := r.exec(ctx).SelectContext(ctx, &products, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"category": filter.Category}, "list products")
	}
	return products, nil
}

func (r *CatalogRepository) ListAliases(ctx context.Context, productID uuid.UUID) ([]models.ProductAlias, error) {
	ctx, span := tracing.StartSpan(ctx, "CatalogRepository.ListAliases")
	defer span.End()

	sb := aliasStruct.SelectFrom(aliasesTable)
	sb.Where(sb.Equal("product_id", productID)).OrderBy("created_at")

	query, args := sb.Build()
	aliases := []models.ProductAlias{}
	if err := r.exec(ctx).SelectContext(ctx, &aliases, query, args...); err != nil {
		return nil, r.internal(ctx, err, map[string]any{"product_id": productID}, "list aliases")
	}
	return aliases, nil
}

func limitOrDefault(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
