package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/records/internal/platform/auth"
	"github.com/ehr/records/pkg/record"
)

func newTestServer(t *testing.T, entries ...Entry) *echo.Echo {
	t.Helper()
	svc, _ := newTestService(t, entries...)
	e := echo.New()
	h := NewHandler(svc, auth.FallbackIdentity("system"), zerolog.Nop())
	h.RegisterRoutes(e.Group("/api"))
	return e
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeOne(t *testing.T, rec *httptest.ResponseRecorder) record.Record {
	t.Helper()
	var r record.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return r
}

func decodeMany(t *testing.T, rec *httptest.ResponseRecorder) []record.Record {
	t.Helper()
	rs, err := record.DecodeList(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rs
}

func TestHandler_CreateAndListScenario(t *testing.T) {
	e := newTestServer(t)

	rec := doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Dupont","prenom":"Alice"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	dupont := decodeOne(t, rec)
	if dupont.ID() == "" {
		t.Fatal("expected id in response")
	}
	if by, _ := dupont.Get("created_by"); by != "system" {
		t.Errorf("expected fallback creator, got %v", by)
	}

	rec = doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Durand","prenom":"Bob"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodGet, "/api/Patient", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rs := decodeMany(t, rec)
	if len(rs) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(rs))
	}
	if rs[0].ID() == dupont.ID() {
		t.Error("expected newest record first")
	}

	rec = doRequest(e, http.MethodGet, "/api/Patient?sort=nom", "")
	rs = decodeMany(t, rec)
	if nom, _ := rs[0].Get("nom"); nom != "Dupont" {
		t.Errorf("expected Dupont first when sorting by nom, got %v", nom)
	}

	rec = doRequest(e, http.MethodGet, "/api/Patient?sort=-nom&limit=1", "")
	rs = decodeMany(t, rec)
	if len(rs) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(rs))
	}
	if nom, _ := rs[0].Get("nom"); nom != "Durand" {
		t.Errorf("expected Durand first when sorting by -nom, got %v", nom)
	}

	filter := url.QueryEscape(`{"prenom":"Alice"}`)
	rec = doRequest(e, http.MethodGet, "/api/Patient?filter="+filter, "")
	rs = decodeMany(t, rec)
	if len(rs) != 1 || rs[0].ID() != dupont.ID() {
		t.Errorf("expected only Dupont, got %v", rs)
	}
}

func TestHandler_ResponsePreservesFieldOrder(t *testing.T) {
	e := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/Patient", `{"prenom":"Alice","nom":"Dupont"}`)
	body := rec.Body.String()
	if strings.Index(body, `"prenom"`) > strings.Index(body, `"nom"`) {
		t.Errorf("expected payload order to be kept: %s", body)
	}
}

func TestHandler_FilterByReturnedTimestamp(t *testing.T) {
	e := newTestServer(t)
	created := decodeOne(t, doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Dupont"}`))
	doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Durand"}`)

	stamp, _ := created.Get("created_date")
	if _, ok := stamp.(string); !ok {
		t.Fatalf("expected created_date as a string on the wire, got %#v", stamp)
	}
	filter, _ := json.Marshal(map[string]any{"created_date": stamp})
	rec := doRequest(e, http.MethodGet, "/api/Patient?filter="+url.QueryEscape(string(filter)), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rs := decodeMany(t, rec)
	if len(rs) != 1 || rs[0].ID() != created.ID() {
		t.Errorf("expected only the created record, got %s", rec.Body.String())
	}
}

func TestHandler_CreateKeepsLargeIntegers(t *testing.T) {
	e := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Dupont","dossier":9007199254740993}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"dossier":9007199254740993`) {
		t.Errorf("expected integer to survive unchanged, got %s", rec.Body.String())
	}
}

func TestHandler_GetUpdateDelete(t *testing.T) {
	e := newTestServer(t)
	created := decodeOne(t, doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Dupont"}`))
	path := "/api/Patient/" + created.ID()

	rec := doRequest(e, http.MethodGet, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doRequest(e, http.MethodPut, path, `{"nom":"Martin","id":"hijack"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeOne(t, rec)
	if updated.ID() != created.ID() {
		t.Error("id must not change on update")
	}
	if nom, _ := updated.Get("nom"); nom != "Martin" {
		t.Errorf("expected nom Martin, got %v", nom)
	}

	for i := 0; i < 2; i++ {
		rec = doRequest(e, http.MethodDelete, path, "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"success":true`) {
			t.Errorf("delete %d: expected success, got %d %s", i, rec.Code, rec.Body.String())
		}
	}

	rec = doRequest(e, http.MethodGet, path, "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "Not found") {
		t.Errorf("expected 404 Not found, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_UnknownEntity(t *testing.T) {
	e := newTestServer(t)
	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/Widget"},
		{http.MethodPost, "/api/Widget"},
		{http.MethodGet, "/api/Widget/123"},
		{http.MethodDelete, "/api/patient/123"},
	} {
		rec := doRequest(e, tt.method, tt.path, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tt.method, tt.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Unknown entity") {
			t.Errorf("%s %s: unexpected body %s", tt.method, tt.path, rec.Body.String())
		}
	}
}

func TestHandler_KnownEntityWrongMethod(t *testing.T) {
	e := newTestServer(t)
	rec := doRequest(e, http.MethodPatch, "/api/Patient/123", `{}`)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHandler_BadRequests(t *testing.T) {
	e := newTestServer(t)
	tests := []struct {
		name, method, path, body string
	}{
		{"array body on create", http.MethodPost, "/api/Patient", `[1,2]`},
		{"malformed json", http.MethodPost, "/api/Patient", `{"nom":`},
		{"trailing data on create", http.MethodPost, "/api/Patient", `{"nom":"x"}garbage`},
		{"second object on create", http.MethodPost, "/api/Patient", `{"nom":"x"}{"nom":"y"}`},
		{"trailing data on bulk", http.MethodPost, "/api/Patient/_bulk", `[{"nom":"x"}]garbage`},
		{"bad limit", http.MethodGet, "/api/Patient?limit=-3", ""},
		{"bad filter", http.MethodGet, "/api/Patient?filter=notjson", ""},
		{"bad sort field", http.MethodGet, "/api/Patient?sort=no%20pe", ""},
		{"object body on bulk", http.MethodPost, "/api/Patient/_bulk", `{"nom":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected error envelope, got %s", rec.Body.String())
			}
		})
	}
}

func TestHandler_BulkCreate(t *testing.T) {
	e := newTestServer(t)
	rec := doRequest(e, http.MethodPost, "/api/Prescription/_bulk", `[{"patient_id":"p1"},{"patient_id":"p2","dose":"1g"}]`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rs := decodeMany(t, rec)
	if len(rs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(rs))
	}

	rs = decodeMany(t, doRequest(e, http.MethodGet, "/api/Prescription", ""))
	if len(rs) != 2 {
		t.Errorf("expected 2 stored records, got %d", len(rs))
	}
}

func TestHandler_IdentityFromContext(t *testing.T) {
	e := newTestServer(t)
	e.Pre(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), auth.Identity{Subject: "nurse@example.org"})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	r := decodeOne(t, doRequest(e, http.MethodPost, "/api/Patient", `{"nom":"Dupont"}`))
	if by, _ := r.Get("created_by"); by != "nurse@example.org" {
		t.Errorf("expected created_by from identity, got %v", by)
	}
}

func TestHandler_SetsAuditContext(t *testing.T) {
	svc, _ := newTestService(t)
	h := NewHandler(svc, auth.FallbackIdentity("system"), zerolog.Nop())
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/api/Patient", strings.NewReader(`{"nom":"Dupont"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	d := mustEntity(t, svc, "Patient")
	if err := h.bind(d, "create", h.create)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Get(CtxEntity) != "Patient" || c.Get(CtxOperation) != "create" {
		t.Errorf("unexpected audit context: %v %v", c.Get(CtxEntity), c.Get(CtxOperation))
	}
	if id, _ := c.Get(CtxRecordID).(string); id == "" {
		t.Error("expected created id on context")
	}
}
