package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/graph"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/repositories"
)

type CatalogReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListProducts(ctx context.Context, filter repositories.ProductFilter) ([]models.Product, error)
	ListAliases(ctx context.Context, productID uuid.UUID) ([]models.ProductAlias, error)
}

type ScoreReader interface {
	LatestScore(ctx context.Context, productID uuid.UUID) (*models.TrendScore, error)
	ScoreHistory(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.TrendScore, error)
	LatestForecast(ctx context.Context, productID uuid.UUID) ([]models.Forecast, error)
	Trending(ctx context.Context, filter repositories.TrendFilter) ([]models.TrendingProduct, error)
}

type SeriesReader interface {
	Window(ctx context.Context, productID uuid.UUID, types []models.SignalType, since, until time.Time) ([]models.Observation, error)
	PriceSummary(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error)
	InventorySummary(ctx context.Context, productID uuid.UUID, since time.Time) ([]models.DistributorSummary, error)
}

// ListingReader answers which sources list a product. It is optional.
type ListingReader interface {
	ProductSources(ctx context.Context, productID string) ([]graph.SourceListing, error)
}

// ProductHandler serves products, their scores, forecasts and series.
type ProductHandler struct {
	catalog  CatalogReader
	scores   ScoreReader
	series   SeriesReader
	listings ListingReader
	now      func() time.Time
}

func NewProductHandler(catalog CatalogReader, scores ScoreReader, series SeriesReader) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		scores:  scores,
		series:  series,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetListings attaches the graph-backed source listing lookup.
func (h *ProductHandler) SetListings(listings ListingReader) {
	h.listings = listings
}

func (h *ProductHandler) RegisterRoutes(g *echo.Group) {
	products := g.Group("/products")
	products.GET("", h.List)
	products.GET("/:id", h.Get)
	products.GET("/:id/scores", h.Scores)
	products.GET("/:id/forecast", h.Forecast)
	products.GET("/:id/prices", h.Prices)
	products.GET("/:id/inventory", h.Inventory)

	g.GET("/trends", h.Trends)
}

// List handles GET /products?category=&search=
func (h *ProductHandler) List(c echo.Context) error {
	limit, offset, err := Page(c)
	if err != nil {
		return err
	}

	filter := repositories.ProductFilter{
		Search: strings.TrimSpace(c.QueryParam("search")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := c.QueryParam("category"); raw != "" {
		category, ok := models.ParseCategory(raw)
		if !ok {
			return BadRequest("unknown category " + raw)
		}
		filter.Category = category
	}

	products, err := h.catalog.ListProducts(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, newList(products, limit, offset))
}

// ProductDetail is a product with its aliases and newest score.
type ProductDetail struct {
	models.Product
	Aliases     []models.ProductAlias `json:"aliases"`
	LatestScore *models.TrendScore    `json:"latest_score"`
	Sources     []graph.SourceListing `json:"sources,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// Get handles GET /products/:id
func (h *ProductHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	product, err := h.catalog.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	aliases, err := h.catalog.ListAliases(ctx, id)
	if err != nil {
		return err
	}
	latest, err := h.scores.LatestScore(ctx, id)
	if err != nil {
		return err
	}

	detail := ProductDetail{Product: *product, Aliases: aliases, LatestScore: latest}
	if latest == nil {
		detail.Message = noTrendData
	}
	if h.listings != nil {
		// Listings are best effort.
		if listings, err := h.listings.ProductSources(ctx, id.String()); err == nil {
			detail.Sources = listings
		}
	}
	return SuccessResponse(c, detail)
}

type ScoresResponse struct {
	ProductID uuid.UUID           `json:"product_id"`
	Scores    []models.TrendScore `json:"scores"`
	Message   string              `json:"message,omitempty"`
}

// Scores handles GET /products/:id/scores?days=
func (h *ProductHandler) Scores(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	since, err := Since(c, h.now())
	if err != nil {
		return err
	}

	if _, err := h.catalog.GetProduct(ctx, id); err != nil {
		return err
	}
	scores, err := h.scores.ScoreHistory(ctx, id, since)
	if err != nil {
		return err
	}

	resp := ScoresResponse{ProductID: id, Scores: scores}
	if len(scores) == 0 {
		resp.Scores = []models.TrendScore{}
		resp.Message = noTrendData
	}
	return SuccessResponse(c, resp)
}

type ForecastResponse struct {
	ProductID uuid.UUID         `json:"product_id"`
	Forecasts []models.Forecast `json:"forecasts"`
	Message   string            `json:"message,omitempty"`
}

// Forecast handles GET /products/:id/forecast
func (h *ProductHandler) Forecast(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	if _, err := h.catalog.GetProduct(ctx, id); err != nil {
		return err
	}

	forecasts, err := h.scores.LatestForecast(ctx, id)
	if err != nil {
		return err
	}

	resp := ForecastResponse{ProductID: id, Forecasts: forecasts}
	if len(forecasts) == 0 {
		resp.Forecasts = []models.Forecast{}
		resp.Message = noForecastData
	}
	return SuccessResponse(c, resp)
}

type SeriesResponse struct {
	ProductID    uuid.UUID                   `json:"product_id"`
	Since        time.Time                   `json:"since"`
	Distributors []models.DistributorSummary `json:"distributors"`
	Observations []models.Observation        `json:"observations"`
}

// Prices handles GET /products/:id/prices?days=
func (h *ProductHandler) Prices(c echo.Context) error {
	return h.seriesResponse(c, models.SignalPrice, h.series.PriceSummary)
}

// Inventory handles GET /products/:id/inventory?days=
func (h *ProductHandler) Inventory(c echo.Context) error {
	return h.seriesResponse(c, models.SignalInventory, h.series.InventorySummary)
}

func (h *ProductHandler) seriesResponse(c echo.Context, signalType models.SignalType, summarize func(context.Context, uuid.UUID, time.Time) ([]models.DistributorSummary, error)) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	now := h.now()
	since, err := Since(c, now)
	if err != nil {
		return err
	}
	if _, err := h.catalog.GetProduct(ctx, id); err != nil {
		return err
	}

	summary, err := summarize(ctx, id, since)
	if err != nil {
		return err
	}
	observations, err := h.series.Window(ctx, id, []models.SignalType{signalType}, since, now)
	if err != nil {
		return err
	}

	return SuccessResponse(c, SeriesResponse{
		ProductID:    id,
		Since:        since,
		Distributors: summary,
		Observations: observations,
	})
}

// Trends handles GET /trends?category=&tier=&min_score=
func (h *ProductHandler) Trends(c echo.Context) error {
	limit, offset, err := Page(c)
	if err != nil {
		return err
	}
	minScore, err := floatQuery(c, "min_score")
	if err != nil {
		return err
	}

	filter := repositories.TrendFilter{MinScore: minScore, Limit: limit, Offset: offset}
	if raw := c.QueryParam("category"); raw != "" {
		category, ok := models.ParseCategory(raw)
		if !ok {
			return BadRequest("unknown category " + raw)
		}
		filter.Category = category
	}
	if raw := c.QueryParam("tier"); raw != "" {
		tier := models.Tier(strings.ToLower(raw))
		if tier.Rank() == 0 && tier != models.TierDeclining {
			return BadRequest("unknown tier " + raw)
		}
		filter.Tier = tier
	}

	trending, err := h.scores.Trending(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, newList(trending, limit, offset))
}
