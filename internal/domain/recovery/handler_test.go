package recovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func doJSON(t *testing.T, h echo.HandlerFunc, method, path, body string, pathParams map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range pathParams {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	err := h(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestCreateClaimHandler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	body := `{"claim_number":"CLM-9","hospital_id":"` + uuid.NewString() +
		`","payer_id":"` + uuid.NewString() + `","claimed_amount":12500000}`
	rec := doJSON(t, h.CreateClaim, http.MethodPost, "/api/v1/claims", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body %s, want 201", rec.Code, rec.Body)
	}
	var created Claim
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	// Resubmission answers 200 with the original record.
	rec = doJSON(t, h.CreateClaim, http.MethodPost, "/api/v1/claims", body, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("duplicate status = %d, want 200", rec.Code)
	}

	// Missing required fields answer 400.
	rec = doJSON(t, h.CreateClaim, http.MethodPost, "/api/v1/claims", `{"claim_number":"X"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", rec.Code)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	c := f.submitClaim(t, 100000)

	// Illegal transition answers 409 with both ends of the attempt.
	rec := doJSON(t, h.ReviewTransition, http.MethodPost, "/api/v1/claims/x/status",
		`{"status":"recovered"}`, map[string]string{"id": c.ID.String()})
	if rec.Code != http.StatusConflict {
		t.Errorf("illegal transition status = %d, want 409", rec.Code)
	}

	// Unknown status answers 400.
	rec = doJSON(t, h.ReviewTransition, http.MethodPost, "/api/v1/claims/x/status",
		`{"status":"bogus"}`, map[string]string{"id": c.ID.String()})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status = %d, want 400", rec.Code)
	}

	// Missing claim answers 404.
	rec = doJSON(t, h.GetClaim, http.MethodGet, "/api/v1/claims/x", "",
		map[string]string{"id": uuid.NewString()})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing claim status = %d, want 404", rec.Code)
	}

	// Malformed id answers 400.
	rec = doJSON(t, h.GetClaim, http.MethodGet, "/api/v1/claims/x", "",
		map[string]string{"id": "not-a-uuid"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}
}

func TestRecordRecoveryHandlerDedup(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	c := f.approvedClaim(t, 100000)

	body := `{"transaction_ref":"UTR-H1","amount":60000}`
	rec := doJSON(t, h.RecordRecovery, http.MethodPost, "/api/v1/claims/x/recoveries",
		body, map[string]string{"id": c.ID.String()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first status = %d body %s, want 201", rec.Code, rec.Body)
	}

	rec = doJSON(t, h.RecordRecovery, http.MethodPost, "/api/v1/claims/x/recoveries",
		body, map[string]string{"id": c.ID.String()})
	if rec.Code != http.StatusOK {
		t.Errorf("replay status = %d, want 200", rec.Code)
	}
}

func TestChangeAppealStatusHandler(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	c := f.submitClaim(t, 100000)

	if _, err := f.svc.RecordDenial(context.Background(), RecordDenialInput{
		ClaimID: c.ID, Category: DenialOther, Amount: 100000,
	}); err != nil {
		t.Fatal(err)
	}
	a, err := f.svc.SubmitAppeal(context.Background(), SubmitAppealInput{ClaimID: c.ID})
	if err != nil {
		t.Fatal(err)
	}

	// Accepted without an outcome amount answers 400.
	rec := doJSON(t, h.ChangeAppealStatus, http.MethodPost, "/api/v1/appeals/x/status",
		`{"status":"accepted"}`, map[string]string{"id": a.ID.String()})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing outcome status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h.ChangeAppealStatus, http.MethodPost, "/api/v1/appeals/x/status",
		`{"status":"accepted","outcome_amount":80000}`, map[string]string{"id": a.ID.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d body %s, want 200", rec.Code, rec.Body)
	}

	// A further transition out of the terminal status answers 409.
	rec = doJSON(t, h.ChangeAppealStatus, http.MethodPost, "/api/v1/appeals/x/status",
		`{"status":"rejected"}`, map[string]string{"id": a.ID.String()})
	if rec.Code != http.StatusConflict {
		t.Errorf("terminal transition status = %d, want 409", rec.Code)
	}
}
