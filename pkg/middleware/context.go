package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/Stewart-Y/ABVTrends-sub000/pkg/context"
)

// HeaderReviewer identifies the person resolving review items.
const HeaderReviewer = "X-Reviewer"

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetMethod(ctx, req.Method)
			ctx = appctx.SetRoute(ctx, req.URL.Path)
			ctx = appctx.SetRemoteIP(ctx, c.RealIP())
			if reviewer := req.Header.Get(HeaderReviewer); reviewer != "" {
				ctx = appctx.SetReviewer(ctx, reviewer)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}
