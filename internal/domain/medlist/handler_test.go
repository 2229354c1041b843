package medlist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrec/medrec/internal/domain/reconciliation"
)

func newHandlerTest() (*Handler, *echo.Echo, *memListRepo) {
	svc, entries, _ := newTestService()
	return NewHandler(svc), echo.New(), entries
}

func TestHandler_GetMedications(t *testing.T) {
	h, e, entries := newHandlerTest()
	residentID := uuid.New()

	if err := entries.Create(context.Background(), activeEntry(residentID, "Metformin", "metformin", "500mg")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)
	c.SetParamNames("residentId")
	c.SetParamValues(residentID.String())

	if err := h.GetMedications(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var src reconciliation.MedicationSource
	if err := json.Unmarshal(rec.Body.Bytes(), &src); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(src.Medications) != 1 || src.Medications[0].Name != "Metformin" {
		t.Errorf("unexpected source: %+v", src)
	}
}

func TestHandler_GetMedications_NotFound(t *testing.T) {
	h, e, _ := newHandlerTest()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)
	c.SetParamNames("residentId")
	c.SetParamValues(uuid.New().String())

	httpErr, ok := h.GetMedications(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", httpErr)
	}
}

func TestHandler_AddMedication(t *testing.T) {
	h, e, entries := newHandlerTest()
	residentID := uuid.New()

	body := `{"name":"Ramipril","active_ingredient":"ramipril","dosage":"5mg","frequency":"once daily","route":"oral"}`
	req := httptest.NewRequest(http.MethodPost, "/?organization_id=org-1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("residentId")
	c.SetParamValues(residentID.String())

	if err := h.AddMedication(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	if _, err := entries.FindActiveByName(context.Background(), residentID, "org-1", "Ramipril"); err != nil {
		t.Errorf("medication not persisted: %v", err)
	}
}

func TestHandler_AddMedication_Invalid(t *testing.T) {
	h, e, _ := newHandlerTest()

	body := `{"dosage":"5mg"}`
	req := httptest.NewRequest(http.MethodPost, "/?organization_id=org-1", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("residentId")
	c.SetParamValues(uuid.New().String())

	httpErr, ok := h.AddMedication(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", httpErr)
	}
}

func TestHandler_GetChangeHistory(t *testing.T) {
	h, e, _ := newHandlerTest()
	residentID := uuid.New()

	svc := h.svc
	if err := svc.ApplyChange(context.Background(), change(residentID, reconciliation.ActionAddMedication, "Ramipril", strP("5mg"))); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?organization_id=org-1", nil), rec)
	c.SetParamNames("residentId")
	c.SetParamValues(residentID.String())

	if err := h.GetChangeHistory(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var logs []ChangeLog
	if err := json.Unmarshal(rec.Body.Bytes(), &logs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(logs) != 1 || logs[0].MedicationName != "Ramipril" {
		t.Errorf("unexpected history: %+v", logs)
	}
}

func TestHandler_InvalidResidentID(t *testing.T) {
	h, e, _ := newHandlerTest()

	for name, call := range map[string]func(echo.Context) error{
		"medications": h.GetMedications,
		"add":         h.AddMedication,
		"history":     h.GetChangeHistory,
	} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("residentId")
		c.SetParamValues("xyz")

		httpErr, ok := call(c).(*echo.HTTPError)
		if !ok || httpErr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %v", name, httpErr)
		}
	}
}
