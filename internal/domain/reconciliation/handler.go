package reconciliation

import (
	"errors"
	"net/http"
	"time"

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
	// Read endpoints – admin, physician, nurse, pharmacist
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "pharmacist"))
	readGroup.GET("/reconciliations", h.ListReconciliations)
	readGroup.GET("/reconciliations/:id", h.GetReconciliation)
	readGroup.GET("/residents/:residentId/reconciliation-history", h.GetHistory)
	readGroup.GET("/reconciliation-metrics", h.GetMetrics)

	// Write endpoints – admin, physician, pharmacist
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "pharmacist"))
	writeGroup.POST("/reconciliations", h.Initiate)
	writeGroup.POST("/reconciliations/:id/discrepancies/:discrepancyId/resolutions", h.ResolveDiscrepancy)

	// Pharmacist sign-off
	reviewGroup := api.Group("", auth.RequireRole("admin", "pharmacist"))
	reviewGroup.POST("/reconciliations/:id/review", h.PerformReview)
}

// httpError maps domain errors onto HTTP statuses: validation 400, not found
// 404, state conflicts 409, everything else 500.
func httpError(err error) error {
	switch {
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsStateError(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
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

func (h *Handler) Initiate(c echo.Context) error {
	var req InitiateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.OrganizationID == "" {
		req.OrganizationID = orgIDFromContext(c)
	}
	if req.PerformedBy == "" {
		req.PerformedBy = auth.UserIDFromContext(c.Request().Context())
	}
	rec, err := h.svc.Initiate(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetReconciliation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetRecord(c.Request().Context(), id, orgIDFromContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListReconciliations(c echo.Context) error {
	pg := pagination.FromContext(c)
	dateRange, err := dateRangeFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	records, total, err := h.svc.ListRecords(c.Request().Context(), orgIDFromContext(c), dateRange, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(records, total, pg.Limit, pg.Offset))
}

func (h *Handler) ResolveDiscrepancy(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	discrepancyID, err := uuid.Parse(c.Param("discrepancyId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discrepancy id")
	}
	var res Resolution
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if res.ResolvedBy == "" {
		res.ResolvedBy = auth.UserIDFromContext(c.Request().Context())
	}
	rec, err := h.svc.ResolveDiscrepancy(c.Request().Context(), recordID, orgIDFromContext(c), discrepancyID, res)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) PerformReview(c echo.Context) error {
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}
	var review PharmacistReview
	if err := c.Bind(&review); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if review.PharmacistID == "" {
		review.PharmacistID = auth.UserIDFromContext(c.Request().Context())
	}
	rec, err := h.svc.PerformPharmacistReview(c.Request().Context(), recordID, orgIDFromContext(c), review)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) GetHistory(c echo.Context) error {
	residentID, err := uuid.Parse(c.Param("residentId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resident id")
	}
	pg := pagination.FromContext(c)
	summaries, err := h.svc.GetReconciliationHistory(c.Request().Context(), residentID, orgIDFromContext(c), pg.Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

func (h *Handler) GetMetrics(c echo.Context) error {
	dateRange, err := dateRangeFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	metrics, err := h.svc.GenerateReconciliationMetrics(c.Request().Context(), orgIDFromContext(c), dateRange)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, metrics)
}

func dateRangeFromQuery(c echo.Context) (DateRange, error) {
	var dr DateRange
	if from := c.QueryParam("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return dr, &ValidationError{Field: "from", Reason: "must be RFC3339"}
		}
		dr.From = t
	}
	if to := c.QueryParam("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return dr, &ValidationError{Field: "to", Reason: "must be RFC3339"}
		}
		dr.To = t
	}
	return dr, nil
}
