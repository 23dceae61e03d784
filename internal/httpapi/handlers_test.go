package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"saldopos/backend/internal/cache"
	"saldopos/backend/internal/domain"
	"saldopos/backend/internal/service"
	"saldopos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopSettingsCache{}, time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (%s)", username, rec.Code, rec.Body.String())
	}
	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	return body.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	return body["csrf_token"]
}

// doJSON performs an authenticated JSON request with CSRF headers set.
func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "badpass"})
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", last)
	}
}

func TestPurchaseEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/purchase", token, csrf,
		domain.PurchaseRequest{ProductID: "prd-americano"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp domain.PurchaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BalanceAfterCents != 2250 {
		t.Fatalf("balance = %d, want 2250", resp.BalanceAfterCents)
	}
	if resp.Transaction.StaffID != "staff" {
		t.Fatalf("staff id = %q", resp.Transaction.StaffID)
	}
}

func TestPurchaseRequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/purchase", "", csrf,
		domain.PurchaseRequest{ProductID: "prd-americano"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMutationRequiresCSRF(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/purchase", token, "",
		domain.PurchaseRequest{ProductID: "prd-americano"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestPurchaseErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	cases := []struct {
		name       string
		customerID string
		req        domain.PurchaseRequest
		want       int
	}{
		{"unknown customer", "9999", domain.PurchaseRequest{ProductID: "prd-americano"}, http.StatusNotFound},
		{"malformed id", "12", domain.PurchaseRequest{ProductID: "prd-americano"}, http.StatusBadRequest},
		{"inactive product", "1001", domain.PurchaseRequest{ProductID: "prd-retired"}, http.StatusUnprocessableEntity},
		{"missing required option", "1001", domain.PurchaseRequest{ProductID: "prd-latte"}, http.StatusBadRequest},
		{"insufficient balance", "1003", domain.PurchaseRequest{ProductID: "prd-cake"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/"+tc.customerID+"/purchase", token, csrf, tc.req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d (%s)", tc.name, rec.Code, tc.want, rec.Body.String())
		}
	}
}

func TestDepositWithDecimalAmount(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/deposit", token, csrf,
		domain.BalanceDeltaRequest{Amount: "12.50"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	var resp domain.BalanceDeltaResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.BalanceAfterCents != 3750 {
		t.Fatalf("balance = %d, want 3750", resp.BalanceAfterCents)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/deposit", token, csrf,
		domain.BalanceDeltaRequest{Amount: "0.005"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("sub-cent deposit status = %d, want 400", rec.Code)
	}
}

func TestVoidRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/purchase", token, csrf,
		domain.PurchaseRequest{ProductID: "prd-americano"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("purchase failed: %d", rec.Code)
	}
	var purchase domain.PurchaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&purchase); err != nil {
		t.Fatalf("decode: %v", err)
	}
	txID := purchase.Transaction.ID

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/transactions/"+txID, token, csrf,
		domain.VoidRequest{Note: "oops", ManagerPIN: "000000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong pin status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/transactions/"+txID, token, csrf,
		domain.VoidRequest{Note: "oops", ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("void status = %d (%s)", rec.Code, rec.Body.String())
	}
	var voided domain.VoidResponse
	if err := json.NewDecoder(rec.Body).Decode(&voided); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if voided.BalanceAfterCents != 2500 {
		t.Fatalf("balance after void = %d, want 2500", voided.BalanceAfterCents)
	}

	// Second void conflicts.
	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/transactions/"+txID, token, csrf,
		domain.VoidRequest{ManagerPIN: "123456"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double void status = %d, want 409", rec.Code)
	}
}

func TestUnvoidEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1002/purchase", token, csrf,
		domain.PurchaseRequest{ProductID: "prd-cake"})
	var purchase domain.PurchaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&purchase); err != nil {
		t.Fatalf("decode: %v", err)
	}
	txID := purchase.Transaction.ID

	// Unvoid before voiding conflicts.
	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/unvoid", txID), token, csrf,
		domain.VoidRequest{ManagerPIN: "123456"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("unvoid live row status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/transactions/"+txID, token, csrf,
		domain.VoidRequest{ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("void status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/transactions/%s/unvoid", txID), token, csrf,
		domain.VoidRequest{ManagerPIN: "123456", Note: "customer returned"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unvoid status = %d (%s)", rec.Code, rec.Body.String())
	}
	var restored domain.VoidResponse
	if err := json.NewDecoder(rec.Body).Decode(&restored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if restored.Transaction.Voided {
		t.Fatalf("row still voided after unvoid")
	}
}

func TestUnmappedErrorHiddenFromClient(t *testing.T) {
	// A storage fault carries no sentinel, so it must surface as 500 and the
	// response body must not echo the driver's error string.
	fault := errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
	if got := statusForError(fault); got != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", got)
	}

	rec := httptest.NewRecorder()
	writeError(rec, statusForError(fault), fault)
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal server error" {
		t.Fatalf("driver error leaked to client: %v", body["error"])
	}
}

func TestEditPurchaseEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1002/purchase", token, csrf,
		domain.PurchaseRequest{ProductID: "prd-americano"})
	var purchase domain.PurchaseResponse
	if err := json.NewDecoder(rec.Body).Decode(&purchase); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPut,
		fmt.Sprintf("/api/v1/transactions/%s/purchase", purchase.Transaction.ID), token, csrf,
		domain.PurchaseEditRequest{ProductID: "prd-cake", ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d (%s)", rec.Code, rec.Body.String())
	}

	var edit domain.EditResponse
	if err := json.NewDecoder(rec.Body).Decode(&edit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if edit.Replacement.EditParentID != purchase.Transaction.ID {
		t.Fatalf("edit parent = %q", edit.Replacement.EditParentID)
	}
	if edit.BalanceAfterCents != 9000 {
		t.Fatalf("balance = %d, want 9000", edit.BalanceAfterCents)
	}
}

func TestEditBalanceDeltaEndpoint(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/deposit", token, csrf,
		domain.BalanceDeltaRequest{AmountCents: 1000})
	var deposit domain.BalanceDeltaResponse
	if err := json.NewDecoder(rec.Body).Decode(&deposit); err != nil {
		t.Fatalf("decode: %v", err)
	}

	rec = doJSON(t, handler, http.MethodPut,
		fmt.Sprintf("/api/v1/transactions/%s/amount", deposit.Transaction.ID), token, csrf,
		domain.BalanceEditRequest{AmountCents: 1500, ManagerPIN: "123456"})
	if rec.Code != http.StatusOK {
		t.Fatalf("edit status = %d (%s)", rec.Code, rec.Body.String())
	}
	var edit domain.EditResponse
	if err := json.NewDecoder(rec.Body).Decode(&edit); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if edit.BalanceAfterCents != 4000 {
		t.Fatalf("balance = %d, want 4000", edit.BalanceAfterCents)
	}
}

func TestSettingsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := loginToken(t, handler, "staff", "staff123")
	adminToken := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/api/v1/settings", staffToken, csrf,
		domain.SettingsUpdateRequest{GlobalDiscountPercent: 10})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff settings update status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/v1/settings", adminToken, csrf,
		domain.SettingsUpdateRequest{GlobalDiscountPercent: 10})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin settings update status = %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/settings", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings read status = %d", rec.Code)
	}
	var body struct {
		Settings domain.AppSettings `json:"settings"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Settings.GlobalDiscountPercent != 10 {
		t.Fatalf("settings not persisted: %+v", body.Settings)
	}
}

func TestCustomerLookupAndTransactions(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "staff", "staff123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/customers/1001", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup status = %d", rec.Code)
	}

	doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/purchase", token, csrf,
		domain.PurchaseRequest{ProductID: "prd-americano"})

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/1001/transactions", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transactions status = %d", rec.Code)
	}
	var list domain.TransactionListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Transactions) != 1 {
		t.Fatalf("transactions = %d, want 1", len(list.Transactions))
	}
}

func TestBackupRoundTripEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/backup/export", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var snapshot domain.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	doJSON(t, handler, http.MethodPost, "/api/v1/customers/1001/deposit", adminToken, csrf,
		domain.BalanceDeltaRequest{AmountCents: 9999})

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/backup/import", adminToken, csrf, snapshot)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/1001", adminToken, "", nil)
	var body struct {
		Customer domain.Customer `json:"customer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode customer: %v", err)
	}
	if body.Customer.BalanceCents != 2500 {
		t.Fatalf("restored balance = %d, want 2500", body.Customer.BalanceCents)
	}
}

func TestCustomerCreateAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	staffToken := loginToken(t, handler, "staff", "staff123")
	adminToken := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/customers", staffToken, csrf,
		domain.CustomerCreateRequest{Name: "Rina Putri"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("staff create status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/customers", adminToken, csrf,
		domain.CustomerCreateRequest{Name: "Rina Putri", InitialDepositCents: 2000})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create status = %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Customer domain.Customer `json:"customer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Customer.ID) != 4 || body.Customer.BalanceCents != 2000 {
		t.Fatalf("created customer = %+v", body.Customer)
	}
}

func TestStaffManagement(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	adminToken := loginToken(t, handler, "admin", "admin123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/staff", adminToken, csrf,
		domain.StaffCreateRequest{Username: "dewi", Password: "secret123"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create staff status = %d (%s)", rec.Code, rec.Body.String())
	}

	if token := loginToken(t, handler, "dewi", "secret123"); token == "" {
		t.Fatalf("new staff cannot login")
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/users/staff", adminToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list staff status = %d", rec.Code)
	}
}
