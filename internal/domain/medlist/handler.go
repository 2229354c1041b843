package medlist

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/medrec/internal/platform/auth"
	"github.com/medrec/medrec/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	readGroup.GET("/residents/:residentId/medications", h.GetMedications)
	readGroup.GET("/residents/:residentId/prescription-changes", h.GetChangeHistory)

	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	writeGroup.POST("/residents/:residentId/medications", h.AddMedication)
}

func orgIDFromContext(c echo.Context) string {
	if org := c.QueryParam("organization_id"); org != "" {
		return org
	}
	if org, ok := c.Get("tenant_id").(string); ok {
		return org
	}
	return ""
}

func (h *Handler) GetMedications(c echo.Context) error {
	residentID, err := uuid.Parse(c.Param("residentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resident id")
	}
	src, err := h.svc.GetCurrentMedicationList(c.Request().Context(), residentID, orgIDFromContext(c))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "no active medications for resident")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, src)
}

func (h *Handler) AddMedication(c echo.Context) error {
	residentID, err := uuid.Parse(c.Param("residentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resident id")
	}
	var e ListEntry
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e.ResidentID = residentID
	if e.OrganizationID == "" {
		e.OrganizationID = orgIDFromContext(c)
	}
	if err := h.svc.AddMedication(c.Request().Context(), &e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetChangeHistory(c echo.Context) error {
	residentID, err := uuid.Parse(c.Param("residentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resident id")
	}
	pg := pagination.FromContext(c)
	changes, err := h.svc.GetChangeHistory(c.Request().Context(), residentID, orgIDFromContext(c), pg.Limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, changes)
}
