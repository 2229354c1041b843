package audit

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// ActivityLister reads back persisted activity entries.
type ActivityLister interface {
	ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit int) ([]Entry, error)
}

var _ ActivityLister = (*Logger)(nil)

// Handler exposes the activity trail for compliance review.
type Handler struct {
	lister ActivityLister
}

func NewHandler(lister ActivityLister) *Handler {
	return &Handler{lister: lister}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/activity/:entityType/:entityId", h.GetActivity)
}

// GetActivity returns the activity entries for one entity, newest first.
func (h *Handler) GetActivity(c echo.Context) error {
	entityType := c.Param("entityType")
	if entityType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity type is required")
	}

	entityID, err := uuid.Parse(c.Param("entityId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid entity id")
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}

	entries, err := h.lister.ListByEntity(c.Request().Context(), entityType, entityID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if entries == nil {
		entries = []Entry{}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"total": len(entries),
		"data":  entries,
	})
}
