package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"envledger/internal/config"
	"envledger/internal/events"
	"envledger/internal/logger"
	"envledger/internal/middleware"
	"envledger/internal/observability"
	"envledger/internal/testutil"
	"envledger/internal/validator"
)

const (
	testSecret   = "flow-secret"
	pipelineKey  = "pipeline-key"
	budgetsRoute = "/api/v1/budgets"
)

// testApp holds the full application stack for flow tests.
type testApp struct {
	router *gin.Engine
	events *events.Recorder
}

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

func setupApp(t *testing.T) *testApp {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.TeardownTestDB(t, db) })

	hash, err := bcrypt.GenerateFromPassword([]byte(pipelineKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash pipeline key: %v", err)
	}
	cfg := &config.Config{
		JWTSecret:           testSecret,
		PipelineAPIKeyHash:  string(hash),
		AccessCacheTTL:      time.Minute,
		AccessCacheSize:     100,
		MaxSharedPrincipals: 10,
		ArchiveRetention:    time.Nanosecond,
		ConflictRetries:     3,
	}

	rec := &events.Recorder{}
	metrics := observability.NewMetrics()
	ledger := NewLedger(db, cfg, rec, metrics)
	return &testApp{router: NewRouter(cfg, ledger, metrics), events: rec}
}

// tokenFor mints a token the way the identity provider would.
func tokenFor(t *testing.T, principal string) string {
	t.Helper()
	claims := middleware.JWTClaims{
		Email: principal + "@example.com",
		Name:  strings.ToUpper(principal),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

// request makes an HTTP request to the test router and returns the recorder.
func (app *testApp) request(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.router.ServeHTTP(rec, req)
	return rec
}

// must performs a request and fails the test unless it returns want.
func (app *testApp) must(t *testing.T, want int, method, path, body, token string) map[string]interface{} {
	t.Helper()
	rec := app.request(method, path, body, token)
	if rec.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, rec.Code, rec.Body.String())
	}
	return parseJSON(t, rec)
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

func obj(v interface{}) map[string]interface{} { return v.(map[string]interface{}) }

// activeBudget creates and activates a March budget for the token's owner.
func (app *testApp) activeBudget(t *testing.T, token string) string {
	t.Helper()
	res := app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute,
		`{"name":"March","startDate":"2026-03-01T00:00:00Z","endDate":"2026-04-01T00:00:00Z"}`, token)
	id := obj(res["budget"])["id"].(string)
	app.must(t, http.StatusOK, http.MethodPost, budgetsRoute+"/"+id+"/activate", "", token)
	return id
}

func (app *testApp) envelope(t *testing.T, token, budgetID, name string, allocated int64, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`{"name":%q,"category":"essential","allocatedAmount":%d%s}`, name, allocated, extra)
	res := app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/envelopes", body, token)
	return obj(res["envelope"])["id"].(string)
}

func TestFlow_HealthAndMetrics(t *testing.T) {
	app := setupApp(t)

	app.must(t, http.StatusOK, http.MethodGet, "/api/health", "", "")

	rec := app.request(http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ledger_http_request_duration_seconds") {
		t.Error("expected request histogram in metrics output")
	}
}

func TestFlow_Unauthenticated(t *testing.T) {
	app := setupApp(t)

	rec := app.request(http.MethodGet, budgetsRoute, "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestFlow_ProfileCreatedOnFirstRequest(t *testing.T) {
	app := setupApp(t)
	token := tokenFor(t, "p1")

	res := app.must(t, http.StatusOK, http.MethodGet, "/api/v1/me", "", token)
	user := obj(res["user"])
	if user["id"] != "p1" || user["email"] != "p1@example.com" || user["displayName"] != "P1" {
		t.Errorf("unexpected profile %v", user)
	}

	res = app.must(t, http.StatusOK, http.MethodPut, "/api/v1/me", `{"currency":"EUR"}`, token)
	if obj(res["user"])["currency"] != "EUR" {
		t.Errorf("expected EUR, got %v", obj(res["user"])["currency"])
	}

	app.must(t, http.StatusOK, http.MethodDelete, "/api/v1/me", "", token)
	if rec := app.request(http.MethodGet, "/api/v1/me", "", token); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected deactivated user to get 401, got %d", rec.Code)
	}
}

func TestFlow_GroceriesExpense(t *testing.T) {
	app := setupApp(t)
	p1 := tokenFor(t, "p1")
	budgetID := app.activeBudget(t, p1)

	res := app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/income",
		`{"amount":500000,"payee":"Employer"}`, p1)
	if obj(res["budget"])["totalIncome"] != float64(500000) {
		t.Fatalf("expected income 500000, got %v", obj(res["budget"])["totalIncome"])
	}

	groceries := app.envelope(t, p1, budgetID, "Groceries", 60000, "")

	res = app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/expense",
		fmt.Sprintf(`{"envelopeId":%q,"amount":12743,"payee":"Market"}`, groceries), p1)
	env := obj(res["envelopes"].([]interface{})[0])
	if env["currentBalance"] != float64(47257) {
		t.Errorf("expected balance 47257, got %v", env["currentBalance"])
	}

	res = app.must(t, http.StatusOK, http.MethodGet, budgetsRoute+"/"+budgetID+"/summary", "", p1)
	budget := obj(obj(res["summary"])["budget"])
	if budget["totalSpent"] != float64(12743) || budget["totalAllocated"] != float64(60000) {
		t.Errorf("unexpected totals %v", budget)
	}

	rec := app.request(http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/expense",
		fmt.Sprintf(`{"envelopeId":%q,"amount":50000}`, groceries), p1)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	errObj := obj(parseJSON(t, rec)["error"])
	if errObj["kind"] != "INSUFFICIENT_BALANCE" {
		t.Errorf("unexpected error %v", errObj)
	}

	if n := len(app.events.OfType(events.TransactionRecorded)); n != 2 {
		t.Errorf("expected 2 recorded events, got %d", n)
	}
}

func TestFlow_SharedBudget(t *testing.T) {
	app := setupApp(t)
	p1, p2, p3 := tokenFor(t, "p1"), tokenFor(t, "p2"), tokenFor(t, "p3")
	budgetID := app.activeBudget(t, p1)
	app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/income", `{"amount":100000}`, p1)
	food := app.envelope(t, p1, budgetID, "Food", 40000, "")

	expense := fmt.Sprintf(`{"envelopeId":%q,"amount":2500}`, food)
	if rec := app.request(http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/expense", expense, p2); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before sharing, got %d", rec.Code)
	}

	app.must(t, http.StatusOK, http.MethodPost, budgetsRoute+"/"+budgetID+"/share", `{"principalIds":["p2"]}`, p1)

	res := app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/expense", expense, p2)
	if obj(res["transaction"])["createdByUserId"] != "p2" {
		t.Errorf("expected createdByUserId p2, got %v", obj(res["transaction"])["createdByUserId"])
	}
	if obj(res["budget"])["ownerId"] != "p1" {
		t.Errorf("expected owner p1, got %v", obj(res["budget"])["ownerId"])
	}

	list := app.must(t, http.StatusOK, http.MethodGet, budgetsRoute, "", p2)
	if list["totalItems"] != float64(1) {
		t.Errorf("expected p2 to see 1 budget, got %v", list["totalItems"])
	}

	if rec := app.request(http.MethodGet, budgetsRoute+"/"+budgetID, "", p3); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for stranger, got %d", rec.Code)
	}

	app.must(t, http.StatusOK, http.MethodDelete, budgetsRoute+"/"+budgetID+"/share/p2", "", p1)
	if rec := app.request(http.MethodGet, budgetsRoute+"/"+budgetID, "", p2); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 after unshare, got %d", rec.Code)
	}
}

func TestFlow_TransferAndVoid(t *testing.T) {
	app := setupApp(t)
	p1 := tokenFor(t, "p1")
	budgetID := app.activeBudget(t, p1)
	app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/income", `{"amount":70000}`, p1)
	from := app.envelope(t, p1, budgetID, "Fun", 50000, "")
	to := app.envelope(t, p1, budgetID, "Gifts", 20000, `,"sortOrder":1`)

	res := app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/transfer",
		fmt.Sprintf(`{"fromEnvelopeId":%q,"toEnvelopeId":%q,"amount":10000}`, from, to), p1)
	txID := obj(res["transaction"])["id"].(string)

	balances := func() (float64, float64) {
		list := app.must(t, http.StatusOK, http.MethodGet, budgetsRoute+"/"+budgetID+"/envelopes", "", p1)
		var a, b float64
		for _, e := range list["envelopes"].([]interface{}) {
			switch obj(e)["id"] {
			case from:
				a = obj(e)["currentBalance"].(float64)
			case to:
				b = obj(e)["currentBalance"].(float64)
			}
		}
		return a, b
	}
	if a, b := balances(); a != 40000 || b != 30000 {
		t.Fatalf("expected 40000/30000, got %.0f/%.0f", a, b)
	}

	app.must(t, http.StatusOK, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/"+txID+"/void", `{"reason":"mistake"}`, p1)
	app.must(t, http.StatusOK, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/"+txID+"/void", "", p1)
	if a, b := balances(); a != 50000 || b != 20000 {
		t.Fatalf("expected 50000/20000 after void, got %.0f/%.0f", a, b)
	}

	list := app.must(t, http.StatusOK, http.MethodGet, budgetsRoute+"/"+budgetID+"/transactions?type=transfer", "", p1)
	if list["totalItems"] != float64(0) {
		t.Errorf("expected voided transfer to be hidden, got %v", list["totalItems"])
	}
	list = app.must(t, http.StatusOK, http.MethodGet, budgetsRoute+"/"+budgetID+"/transactions?type=transfer&include_void=true", "", p1)
	if list["totalItems"] != float64(1) {
		t.Errorf("expected 1 voided transfer, got %v", list["totalItems"])
	}
	if n := len(app.events.OfType(events.TransactionVoided)); n != 1 {
		t.Errorf("expected 1 void event, got %d", n)
	}
}

func TestFlow_CloseRolloverArchive(t *testing.T) {
	app := setupApp(t)
	p1 := tokenFor(t, "p1")
	budgetID := app.activeBudget(t, p1)
	app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/income", `{"amount":100000}`, p1)
	app.envelope(t, p1, budgetID, "Savings", 30000, `,"isRecurring":true,"allowRollover":true`)
	app.envelope(t, p1, budgetID, "Trip", 20000, `,"sortOrder":1`)

	app.must(t, http.StatusOK, http.MethodPost, budgetsRoute+"/"+budgetID+"/close", "", p1)

	rec := app.request(http.MethodPost, budgetsRoute+"/"+budgetID+"/transactions/income", `{"amount":100}`, p1)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected closed budget to reject writes, got %d", rec.Code)
	}

	res := app.must(t, http.StatusCreated, http.MethodPost, budgetsRoute+"/"+budgetID+"/rollover", "", p1)
	next := obj(res["budget"])
	if next["previousBudgetId"] != budgetID || next["status"] != "draft" {
		t.Errorf("unexpected next budget %v", next)
	}
	envs := res["envelopes"].([]interface{})
	if len(envs) != 1 {
		t.Fatalf("expected 1 recurring envelope, got %d", len(envs))
	}
	if e := obj(envs[0]); e["name"] != "Savings" || e["currentBalance"] != float64(60000) {
		t.Errorf("expected Savings with 30000 carried over, got %v", e)
	}

	if rec := app.request(http.MethodPost, "/api/v1/internal/archive", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without API key, got %d", rec.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/archive", http.NoBody)
	req.Header.Set("X-API-Key", pipelineKey)
	archiveRec := httptest.NewRecorder()
	app.router.ServeHTTP(archiveRec, req)
	if archiveRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", archiveRec.Code, archiveRec.Body.String())
	}
	if parseJSON(t, archiveRec)["archived"] != float64(1) {
		t.Errorf("expected 1 archived budget, got %s", archiveRec.Body.String())
	}

	res = app.must(t, http.StatusOK, http.MethodGet, budgetsRoute+"/"+budgetID, "", p1)
	if obj(res["budget"])["status"] != "archived" {
		t.Errorf("expected archived, got %v", obj(res["budget"])["status"])
	}
}
