package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Stewart-Y/ABVTrends-sub000/pkg/context"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/matching"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/models"
)

type ReviewService interface {
	ListReviews(ctx context.Context, status models.ReviewStatus, limit, offset int) ([]models.ReviewItem, error)
	GetReview(ctx context.Context, id uuid.UUID) (*models.ReviewItem, error)
	Approve(ctx context.Context, id uuid.UUID, productID *uuid.UUID, reviewer string) (matching.MatchOutcome, error)
	Reject(ctx context.Context, id uuid.UUID, reviewer string) (matching.MatchOutcome, error)
}

// ReviewHandler serves the needs-review queue.
type ReviewHandler struct {
	reviews ReviewService
}

func NewReviewHandler(reviews ReviewService) *ReviewHandler {
	return &ReviewHandler{reviews: reviews}
}

// ApproveRequest optionally redirects the approval to a different product.
type ApproveRequest struct {
	ProductID string `json:"product_id" validate:"omitempty,uuid"`
}

func (h *ReviewHandler) RegisterRoutes(g *echo.Group) {
	reviews := g.Group("/reviews")
	reviews.GET("", h.List)
	reviews.GET("/:id", h.Get)
	reviews.POST("/:id/approve", h.Approve)
	reviews.POST("/:id/reject", h.Reject)
}

// List handles GET /reviews?status=
func (h *ReviewHandler) List(c echo.Context) error {
	limit, offset, err := Page(c)
	if err != nil {
		return err
	}

	status := models.ReviewStatus(c.QueryParam("status"))
	switch status {
	case "", models.ReviewPending, models.ReviewApproved, models.ReviewRejected, models.ReviewExpired:
	default:
		return BadRequest("unknown review status " + string(status))
	}

	items, err := h.reviews.ListReviews(c.Request().Context(), status, limit, offset)
	if err != nil {
		return err
	}
	return SuccessResponse(c, newList(items, limit, offset))
}

// Get handles GET /reviews/:id
func (h *ReviewHandler) Get(c echo.Context) error {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	item, err := h.reviews.GetReview(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, item)
}

// Approve handles POST /reviews/:id/approve
func (h *ReviewHandler) Approve(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req ApproveRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return BadRequest("invalid request body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return BadRequest("product_id must be a valid UUID")
	}

	var productID *uuid.UUID
	if req.ProductID != "" {
		parsed := uuid.MustParse(req.ProductID)
		productID = &parsed
	}

	outcome, err := h.reviews.Approve(ctx, id, productID, reviewer(ctx))
	if err != nil {
		return err
	}
	return SuccessResponse(c, outcome)
}

// Reject handles POST /reviews/:id/reject
func (h *ReviewHandler) Reject(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	outcome, err := h.reviews.Reject(ctx, id, reviewer(ctx))
	if err != nil {
		return err
	}
	return SuccessResponse(c, outcome)
}

func reviewer(ctx context.Context) string {
	if r := appctx.GetReviewer(ctx); r != "" {
		return r
	}
	return defaultReviewer
}
