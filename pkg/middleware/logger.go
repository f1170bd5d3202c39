package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/Stewart-Y/ABVTrends-sub000/pkg/context"
	"github.com/Stewart-Y/ABVTrends-sub000/pkg/metrics"
)

// quietPrefixes are probe routes that are measured but not logged.
var quietPrefixes = []string{"/metrics", "/api/v1/health"}

// Logger logs one line per request and records API request metrics. Client
// errors log at warn and server errors at error.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}
			elapsed := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(res.Status)
			metrics.RecordAPIRequest(req.Method, route, status, elapsed.Seconds())

			if isQuiet(route) && res.Status < 500 {
				return nil
			}

			ctx := req.Context()
			fields := map[string]any{
				"request_id":    appctx.GetRequestID(ctx),
				"method":        req.Method,
				"uri":           req.RequestURI,
				"route":         route,
				"status":        res.Status,
				"remote_ip":     c.RealIP(),
				"response_time": elapsed,
				"response_size": res.Size,
			}
			if reviewer := appctx.GetReviewer(ctx); reviewer != "" {
				fields["reviewer"] = reviewer
			}

			log := logger.WithContext(ctx).WithFields(fields)
			switch {
			case res.Status >= 500:
				log.Error("Request failed")
			case res.Status >= 400:
				log.Warn("Request rejected")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}

func isQuiet(route string) bool {
	for _, p := range quietPrefixes {
		if strings.HasPrefix(route, p) {
			return true
		}
	}
	return false
}
