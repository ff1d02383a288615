package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/tsntt/footballdash/internal/platform/errors"
	"golang.org/x/time/rate"
)

const broadcastLimiterExpiry = 5 * time.Minute

// newBroadcastLimiter throttles trigger calls per operator IP and match. A
// burst of clicks on one match is refused here before the pending check, while
// triggers for other matches keep their own budget.
func newBroadcastLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: broadcastLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: broadcastKey,
		Store:               store,
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			denied := apperrors.RateLimitedError("too many broadcast requests for this match")
			return c.JSON(denied.HTTPStatus(), denied.ToResponse())
		},
	})
}

func broadcastKey(c echo.Context) (string, error) {
	return c.RealIP() + "|" + c.Param("matchId"), nil
}
