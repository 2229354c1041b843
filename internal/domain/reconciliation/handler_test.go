package reconciliation

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newHandlerTest(t *testing.T) (*Handler, *echo.Echo, *testDeps) {
	t.Helper()
	svc, deps := newTestService(t)
	return NewHandler(svc), echo.New(), deps
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func initiateBody(residentID uuid.UUID) string {
	return fmt.Sprintf(`{
		"resident_id": %q,
		"reconciliation_type": "admission",
		"performed_by": "nurse-1",
		"organization_id": "org-1",
		"source_list": {
			"source_type": "home_medications",
			"source_date": "2026-03-01T09:00:00Z",
			"reliability": "high",
			"medications": [
				{"name":"Coumadin","active_ingredient":"warfarin","strength":"5mg","dosage":"5mg","frequency":"once daily","route":"oral","source":"gp","is_active":true},
				{"name":"Metformin","active_ingredient":"metformin","strength":"500mg","dosage":"500mg","frequency":"twice daily","route":"oral","source":"gp","is_active":true}
			]
		},
		"target_list": {
			"source_type": "care_home_mar",
			"source_date": "2026-03-02T09:00:00Z",
			"reliability": "high",
			"medications": [
				{"name":"Metformin","active_ingredient":"metformin","strength":"500mg","dosage":"500mg","frequency":"twice daily","route":"oral","source":"mar","is_active":true}
			]
		}
	}`, residentID)
}

func TestHandler_Initiate(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/reconciliations", initiateBody(uuid.New())), rec)

	if err := h.Initiate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var out ReconciliationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != StatusRequiresReview {
		t.Errorf("status = %s, want requires_review (warfarin omission)", out.Status)
	}
	if len(out.Discrepancies) != 1 {
		t.Errorf("expected 1 discrepancy, got %d", len(out.Discrepancies))
	}
}

func TestHandler_Initiate_ValidationMaps400(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	body := `{"reconciliation_type":"admission","performed_by":"nurse-1","organization_id":"org-1"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/reconciliations", body), rec)

	err := h.Initiate(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
}

func TestHandler_Initiate_FillsOrgFromTenant(t *testing.T) {
	h, e, deps := newHandlerTest(t)

	residentID := uuid.New()
	body := strings.Replace(initiateBody(residentID), `"organization_id": "org-1",`, "", 1)
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/reconciliations", body), rec)
	c.Set("tenant_id", "tenant-9")

	if err := h.Initiate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records, _, err := deps.records.ListByOrganization(ctxBG(), "tenant-9", DateRange{}, 0, 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("record should land in the tenant organization, got %d (%v)", len(records), err)
	}
}

func TestHandler_GetReconciliation(t *testing.T) {
	h, e, deps := newHandlerTest(t)

	stored := metricsRecord(detectNow, 5, nil, nil, false)
	deps.records.put(stored)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)
	c.SetParamNames("id")
	c.SetParamValues(stored.ID.String())

	if err := h.GetReconciliation(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetReconciliation_Errors(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	t.Run("invalid id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues("not-a-uuid")

		httpErr, ok := h.GetReconciliation(c).(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %v", httpErr)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)
		c.SetParamNames("id")
		c.SetParamValues(uuid.New().String())

		httpErr, ok := h.GetReconciliation(c).(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %v", httpErr)
		}
	})
}

func TestHandler_ListReconciliations(t *testing.T) {
	h, e, deps := newHandlerTest(t)
	deps.records.put(metricsRecord(detectNow, 5, nil, nil, false))
	deps.records.put(metricsRecord(detectNow.Add(1), 5, nil, nil, false))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1&limit=1", nil), rec)

	if err := h.ListReconciliations(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out struct {
		Total  int               `json:"total"`
		Limit  int               `json:"limit"`
		Data   []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Total != 2 {
		t.Errorf("total = %d, want 2", out.Total)
	}
	if len(out.Data) != 1 {
		t.Errorf("page size = %d, want 1", len(out.Data))
	}
}

func TestHandler_ListReconciliations_BadDateRange(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1&from=yesterday", nil), rec)

	httpErr, ok := h.ListReconciliations(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed from, got %v", httpErr)
	}
}

func TestHandler_ResolveDiscrepancy(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	// Initiate through the handler so the record exists.
	created := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/reconciliations", initiateBody(uuid.New())), created)
	if err := h.Initiate(c); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	var stored ReconciliationRecord
	if err := json.Unmarshal(created.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	body := `{"resolution_type":"medication_added","resolution_action":"Re-prescribed","rationale":"Confirmed with GP","resolved_by":"pharm-1"}`
	rec := httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/?organization_id=org-1", body), rec)
	c.SetParamNames("id", "discrepancyId")
	c.SetParamValues(stored.ID.String(), stored.Discrepancies[0].ID.String())

	if err := h.ResolveDiscrepancy(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var out ReconciliationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", out.Status)
	}
}

func TestHandler_ResolveDiscrepancy_StateConflictMaps409(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	created := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/reconciliations", initiateBody(uuid.New())), created)
	if err := h.Initiate(c); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	var stored ReconciliationRecord
	if err := json.Unmarshal(created.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resolve := func() error {
		body := `{"resolution_type":"no_action_required","resolved_by":"pharm-1"}`
		rec := httptest.NewRecorder()
		c := e.NewContext(jsonRequest(http.MethodPost, "/?organization_id=org-1", body), rec)
		c.SetParamNames("id", "discrepancyId")
		c.SetParamValues(stored.ID.String(), stored.Discrepancies[0].ID.String())
		return h.ResolveDiscrepancy(c)
	}

	if err := resolve(); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	httpErr, ok := resolve().(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409 on completed record, got %v", httpErr)
	}
}

func TestHandler_PerformReview(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	created := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/reconciliations", initiateBody(uuid.New())), created)
	if err := h.Initiate(c); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	var stored ReconciliationRecord
	if err := json.Unmarshal(created.Body.Bytes(), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}

	body := `{"pharmacist_id":"pharm-1","review_type":"final_approval","clinical_assessment":"Reviewed","approval_status":"approved","risk_assessment":{"overall_risk":"low"}}`
	rec := httptest.NewRecorder()
	c = e.NewContext(jsonRequest(http.MethodPost, "/?organization_id=org-1", body), rec)
	c.SetParamNames("id")
	c.SetParamValues(stored.ID.String())

	if err := h.PerformReview(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out ReconciliationRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != StatusApproved {
		t.Errorf("status = %s, want approved", out.Status)
	}
}

func TestHandler_GetHistory(t *testing.T) {
	h, e, deps := newHandlerTest(t)

	residentID := uuid.New()
	stored := metricsRecord(detectNow, 5, nil, nil, false)
	stored.ResidentID = residentID
	deps.records.put(stored)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)
	c.SetParamNames("residentId")
	c.SetParamValues(residentID.String())

	if err := h.GetHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out []HistorySummary
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].RecordID != stored.ID {
		t.Errorf("unexpected history: %+v", out)
	}
}

func TestHandler_GetHistory_InvalidResident(t *testing.T) {
	h, e, _ := newHandlerTest(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	c.SetParamNames("residentId")
	c.SetParamValues("abc")

	httpErr, ok := h.GetHistory(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", httpErr)
	}
}

func TestHandler_GetMetrics(t *testing.T) {
	h, e, deps := newHandlerTest(t)
	deps.records.put(metricsRecord(detectNow, 10, []Discrepancy{
		{Type: DiscrepancyOmission, Severity: SeverityCritical},
	}, nil, true))

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)

	if err := h.GetMetrics(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var out Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalReconciliations != 1 || out.TotalDiscrepancies != 1 {
		t.Errorf("unexpected metrics: %+v", out)
	}
}
