package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/pipeline"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/repositories"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/sources"
)

type SourceCatalog interface {
	Get(id string) (sources.Definition, bool)
	List() []sources.Definition
}

type PipelineService interface {
	TriggerScrape(ctx context.Context, sourceID string) (pipeline.TriggerResult, error)
	Health(ctx context.Context) (*pipeline.HealthReport, error)
	IsRunning(sourceID string) bool
}

type RunReader interface {
	ListRuns(ctx context.Context, filter repositories.RunFilter) ([]models.ScrapeRun, error)
}

// SourceHandler serves the source registry, source health, manual triggers
// and the scrape run log.
type SourceHandler struct {
	catalog  SourceCatalog
	pipeline PipelineService
	runs     RunReader
}

func NewSourceHandler(catalog SourceCatalog, pipeline PipelineService, runs RunReader) *SourceHandler {
	return &SourceHandler{catalog: catalog, pipeline: pipeline, runs: runs}
}

func (h *SourceHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/sources", h.List)
	g.GET("/sources/health", h.Health)
	g.POST("/sources/:id/trigger", h.Trigger)
	g.GET("/scrape-runs", h.Runs)
}

// SourceView is a registered source with its in-process running flag.
type SourceView struct {
	models.Source
	SignalType models.SignalType `json:"signal_type"`
	Running    bool              `json:"running"`
}

// List handles GET /sources
func (h *SourceHandler) List(c echo.Context) error {
	defs := h.catalog.List()
	views := make([]SourceView, 0, len(defs))
	for _, def := range defs {
		views = append(views, SourceView{
			Source:     def.Model(),
			SignalType: def.SignalType,
			Running:    h.pipeline.IsRunning(def.ID),
		})
	}
	return SuccessResponse(c, views)
}

// Health handles GET /sources/health
func (h *SourceHandler) Health(c echo.Context) error {
	report, err := h.pipeline.Health(c.Request().Context())
	if err != nil {
		return err
	}
	return SuccessResponse(c, report)
}

// Trigger handles POST /sources/:id/trigger. Accepted scrapes answer 202,
// unknown sources 404 and rejected ones 409, always with a TriggerResult body.
func (h *SourceHandler) Trigger(c echo.Context) error {
	id := c.Param("id")
	if _, ok := h.catalog.Get(id); !ok {
		return c.JSON(http.StatusNotFound, pipeline.TriggerResult{Reason: fmt.Sprintf("unknown source %q", id)})
	}

	result, err := h.pipeline.TriggerScrape(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if !result.Accepted {
		return c.JSON(http.StatusConflict, result)
	}
	return c.JSON(http.StatusAccepted, result)
}

// Runs handles GET /scrape-runs?source_id=&status=&cycle_id=
func (h *SourceHandler) Runs(c echo.Context) error {
	limit, offset, err := Page(c)
	if err != nil {
		return err
	}

	filter := repositories.RunFilter{
		SourceID: c.QueryParam("source_id"),
		Status:   models.RunStatus(c.QueryParam("status")),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := c.QueryParam("cycle_id"); raw != "" {
		cycleID, err := uuid.Parse(raw)
		if err != nil {
			return BadRequest("invalid cycle_id: must be a valid UUID")
		}
		filter.CycleID = cycleID
	}

	runs, err := h.runs.ListRuns(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	return SuccessResponse(c, newList(runs, limit, offset))
}
