package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/labstack/echo/v4"
	"github.com/tsntt/footballdash/internal/adapter/footballapi"
	"github.com/tsntt/footballdash/internal/domain"
	"github.com/tsntt/footballdash/internal/platform/correlation"
	apperrors "github.com/tsntt/footballdash/internal/platform/errors"
)

const requestIDHeader = "X-Request-ID"

// correlationMiddleware reuses an incoming X-Request-ID or mints a new id and
// echoes it back on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = correlation.NewID()
		}
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(requestIDHeader, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			return HandleError(c, err)
		}
	}
}

// toStructuredError maps domain and upstream failures onto response types.
func toStructuredError(err error) *apperrors.Error {
	var structured *apperrors.Error
	if errors.As(err, &structured) {
		return structured
	}

	var apiErr *footballapi.APIError
	switch {
	case errors.Is(err, domain.ErrInvalidMatchID):
		return apperrors.ValidationError("invalid match id")
	case errors.Is(err, domain.ErrBroadcastPending):
		return apperrors.ConflictError("broadcast already pending for this match", err)
	case errors.Is(err, domain.ErrJobNotFound):
		return apperrors.NotFoundError("broadcast job not found")
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrNotAdmin):
		return apperrors.UnavailableError("console is not authenticated against the football api", err)
	case errors.Is(err, domain.ErrTrackerStopped), errors.Is(err, domain.ErrRefreshCanceled):
		return apperrors.UnavailableError("console is shutting down or busy", err)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return apperrors.UnavailableError("football api temporarily unavailable", err)
	case errors.Is(err, footballapi.ErrUnreachable):
		return apperrors.ExternalError("football api unreachable", err)
	case errors.As(err, &apiErr):
		return apperrors.ExternalError("football api request failed", err).
			WithField("upstream_status", apiErr.StatusCode)
	default:
		return apperrors.InternalError("internal server error", err)
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeRateLimited:
		slog.WarnContext(ctx, "Rate limited", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := toStructuredError(err)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

// httpErrorHandler answers echo's own errors (unknown route, wrong method,
// recovered panics) with the same JSON body as handler errors.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		_ = HandleError(c, err)
		return
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(httpErr.Code)
		return
	}
	_ = c.JSON(httpErr.Code, WrapHTTPError(httpErr).ToResponse())
}

func WrapHTTPError(httpErr *echo.HTTPError) *apperrors.Error {
	message := "internal server error"
	if httpErr.Message != nil {
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	var errType apperrors.ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = apperrors.TypeValidation
	case http.StatusNotFound:
		errType = apperrors.TypeNotFound
	case http.StatusConflict:
		errType = apperrors.TypeConflict
	case http.StatusTooManyRequests:
		errType = apperrors.TypeRateLimited
	case http.StatusServiceUnavailable:
		errType = apperrors.TypeUnavailable
	case http.StatusBadGateway:
		errType = apperrors.TypeExternal
	default:
		errType = apperrors.TypeInternal
	}

	err := &apperrors.Error{
		Type:    errType,
		Message: message,
		Context: make(map[string]any),
	}

	if httpErr.Internal != nil {
		err.Cause = httpErr.Internal
	}

	return err
}
