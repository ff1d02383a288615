package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tsntt/footballdash/internal/domain"
	apperrors "github.com/tsntt/footballdash/internal/platform/errors"
)

type progressResponse struct {
	Jobs []domain.JobView `json:"jobs"`
}

type matchesResponse struct {
	Matches   []domain.Match           `json:"matches"`
	FetchedAt time.Time                `json:"fetched_at"`
	Pending   []domain.BroadcastAction `json:"pending"`
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")

	api.GET("/status", s.handleStatus)
	api.GET("/progress", s.handleProgress)
	api.GET("/progress/:channelId", s.handleJob)
	api.GET("/matches", s.handleMatches)
	api.GET("/broadcasts", s.handlePendingBroadcasts)
	api.POST("/broadcast/:matchId", s.handleBroadcast,
		newBroadcastLimiter(s.config.BroadcastRateLimit, s.config.BroadcastRateBurst))
	api.GET("/notifications", s.handleNotifications)
	api.DELETE("/notifications/:id", s.handleDismissNotification)
}

func (s *Server) handleStatus(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.app.Status()); err != nil {
		return fmt.Errorf("failed to write status response: %w", err)
	}
	return nil
}

func (s *Server) handleProgress(c echo.Context) error {
	jobs, err := s.app.Progress()
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, progressResponse{Jobs: domain.Views(jobs)}); err != nil {
		return fmt.Errorf("failed to write progress response: %w", err)
	}
	return nil
}

func (s *Server) handleJob(c echo.Context) error {
	raw := c.Param("channelId")
	channelID, err := strconv.Atoi(raw)
	if err != nil {
		return apperrors.ValidationError("invalid channel id").WithField("channel_id", raw)
	}

	job, err := s.app.Job(channelID)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, job.View()); err != nil {
		return fmt.Errorf("failed to write job response: %w", err)
	}
	return nil
}

func (s *Server) handleMatches(c echo.Context) error {
	listing, err := s.app.Matches(c.Request().Context())
	if err != nil {
		return err
	}

	resp := matchesResponse{
		Matches:   listing.Matches,
		FetchedAt: listing.FetchedAt,
		Pending:   s.app.PendingBroadcasts(),
	}
	if resp.Matches == nil {
		resp.Matches = []domain.Match{}
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write matches response: %w", err)
	}
	return nil
}

func (s *Server) handlePendingBroadcasts(c echo.Context) error {
	pending := s.app.PendingBroadcasts()
	if pending == nil {
		pending = []domain.BroadcastAction{}
	}
	if err := c.JSON(http.StatusOK, pending); err != nil {
		return fmt.Errorf("failed to write broadcasts response: %w", err)
	}
	return nil
}

func (s *Server) handleBroadcast(c echo.Context) error {
	raw := c.Param("matchId")
	matchID, err := strconv.Atoi(raw)
	if err != nil {
		return apperrors.ValidationError("invalid match id").WithField("match_id", raw)
	}

	resp, err := s.app.Broadcast(c.Request().Context(), matchID)
	if err != nil {
		return err
	}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write broadcast response: %w", err)
	}
	return nil
}

func (s *Server) handleNotifications(c echo.Context) error {
	notes := s.app.Notifications()
	if notes == nil {
		notes = []domain.Notification{}
	}
	if err := c.JSON(http.StatusOK, notes); err != nil {
		return fmt.Errorf("failed to write notifications response: %w", err)
	}
	return nil
}

func (s *Server) handleDismissNotification(c echo.Context) error {
	s.app.DismissNotification(c.Param("id"))
	return c.NoContent(http.StatusNoContent)
}
