package events

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Handler exposes subscription management via Echo HTTP routes.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new Handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes binds all subscription management routes to the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.Subscribe)
	g.GET("", h.ListSubscriptions)
	g.GET("/:id", h.GetSubscription)
	g.PUT("/:id", h.UpdateSubscription)
	g.DELETE("/:id", h.DeleteSubscription)
	g.POST("/:id/test", h.TestSubscriptionHandler)
	g.GET("/:id/deliveries", h.GetDeliveryLogs)
	g.POST("/:id/pause", h.PauseSubscriptionHandler)
	g.POST("/:id/resume", h.ResumeSubscriptionHandler)
	g.POST("/deliveries/:id/retry", h.RetryDeliveryHandler)
}

// subscribeRequest is the JSON body for subscription registration.
type subscribeRequest struct {
	URL            string   `json:"url"`
	Secret         string   `json:"secret"`
	OrganizationID string   `json:"organization_id"`
	EventTypes     []string `json:"event_types"`
}

// Subscribe handles POST /subscriptions.
func (h *Handler) Subscribe(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub, err := h.manager.Subscribe(c.Request().Context(), req.URL, req.Secret, req.OrganizationID, req.EventTypes)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

// ListSubscriptions handles GET /subscriptions.
func (h *Handler) ListSubscriptions(c echo.Context) error {
	orgID := c.QueryParam("organization_id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	subs, total, err := h.manager.store.ListSubscriptions(c.Request().Context(), orgID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":     subs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+limit < total,
	})
}

// GetSubscription handles GET /subscriptions/:id.
func (h *Handler) GetSubscription(c echo.Context) error {
	id := c.Param("id")
	sub, err := h.manager.store.GetSubscription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.JSON(http.StatusOK, sub)
}

// updateRequest is the JSON body for subscription updates.
type updateRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"event_types"`
	Status     string   `json:"status"`
}

// UpdateSubscription handles PUT /subscriptions/:id.
func (h *Handler) UpdateSubscription(c echo.Context) error {
	id := c.Param("id")
	sub, err := h.manager.store.GetSubscription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	var req updateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.URL != "" {
		if err := validateSubscriptionURL(req.URL); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		sub.URL = req.URL
	}
	if len(req.EventTypes) > 0 {
		sub.EventTypes = req.EventTypes
	}
	if req.Status != "" {
		sub.Status = req.Status
	}
	if err := h.manager.store.UpdateSubscription(c.Request().Context(), sub); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /subscriptions/:id.
func (h *Handler) DeleteSubscription(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.store.DeleteSubscription(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.NoContent(http.StatusNoContent)
}

// TestSubscriptionHandler handles POST /subscriptions/:id/test.
func (h *Handler) TestSubscriptionHandler(c echo.Context) error {
	id := c.Param("id")
	attempt, err := h.manager.TestSubscription(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

// GetDeliveryLogs handles GET /subscriptions/:id/deliveries.
func (h *Handler) GetDeliveryLogs(c echo.Context) error {
	subscriptionID := c.Param("id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	logs, total, err := h.manager.GetDeliveryLogs(c.Request().Context(), subscriptionID, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":     logs,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
		"has_more": offset+limit < total,
	})
}

// RetryDeliveryHandler handles POST /subscriptions/deliveries/:id/retry.
func (h *Handler) RetryDeliveryHandler(c echo.Context) error {
	id := c.Param("id")
	attempt, err := h.manager.RetryDelivery(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, attempt)
}

// PauseSubscriptionHandler handles POST /subscriptions/:id/pause.
func (h *Handler) PauseSubscriptionHandler(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.PauseSubscription(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeSubscriptionHandler handles POST /subscriptions/:id/resume.
func (h *Handler) ResumeSubscriptionHandler(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.ResumeSubscription(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}
