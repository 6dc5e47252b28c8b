package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/cardlinkhq/settle/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	testOwner   = "0x00000000000000000000000000000000000000aa"
	testArbiter = "0x00000000000000000000000000000000000000ab"
	testFees    = "0x00000000000000000000000000000000000000ac"
	testPayer   = "0x1111111111111111111111111111111111111111"
	testPayee   = "0x2222222222222222222222222222222222222222"
)

// testConfig returns a minimal config for testing. Signature verification is
// disabled so tests can act as any caller via the X-Caller header.
func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "development",
		LogLevel:       "error",
		OwnerAddress:   testOwner,
		ArbiterAddress: testArbiter,
		FeeRecipient:   testFees,
		FeeRateBps:     250,
		FeeCap:         "1000",
		AuthDisabled:   true,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// do issues a request as the given caller (empty caller = unauthenticated).
func do(s *Server, method, path, caller, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if caller != "" {
		req.Header.Set("X-Caller", caller)
	}
	s.router.ServeHTTP(w, req)
	return w
}

func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v (%s)", err, w.Body.String())
	}
	return resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	resp := parseJSON(t, w)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health/live", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health/ready", "", "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/metrics",
		"GET:/ws",
		"GET:/v1/platform",
		"PUT:/v1/platform/fees",
		"GET:/v1/accounts/:address/balance",
		"GET:/v1/accounts/:address/ledger",
		"POST:/v1/deposits",
		"POST:/v1/payments",
		"GET:/v1/payments/:id",
		"POST:/v1/escrows",
		"GET:/v1/escrows/:id",
		"POST:/v1/escrows/:id/release",
		"POST:/v1/escrows/:id/refund",
		"POST:/v1/escrows/:id/dispute",
		"POST:/v1/escrows/:id/resolve",
		"GET:/v1/events",
		"GET:/v1/participants",
		"GET:/v1/audit/custody",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Auth enforcement
// ---------------------------------------------------------------------------

func TestMutationsRequireCaller(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "POST", "/v1/payments", "", `{"payee":"`+testPayee+`","amount":"1.00","value":"1.00"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without caller, got %d", w.Code)
	}

	w = do(s, "POST", "/v1/deposits", "", `{"address":"`+testPayer+`","amount":"1.00","reference":"dep-x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without caller, got %d", w.Code)
	}
}

func TestFeeUpdateRequiresOwner(t *testing.T) {
	s := newTestServer(t)

	body := `{"feeRateBps":100,"feeCap":"50"}`
	w := do(s, "PUT", "/v1/platform/fees", testPayer, body)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-owner, got %d", w.Code)
	}

	w = do(s, "PUT", "/v1/platform/fees", testOwner, body)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for owner, got %d: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// End-to-end payment flow
// ---------------------------------------------------------------------------

func TestPaymentFlow(t *testing.T) {
	s := newTestServer(t)

	// Fund the payer
	w := do(s, "POST", "/v1/deposits", testPayer, `{"address":"`+testPayer+`","amount":"100.00","reference":"dep-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Deposit failed: %d %s", w.Code, w.Body.String())
	}

	// Pay the payee
	w = do(s, "POST", "/v1/payments", testPayer, `{"payee":"`+testPayee+`","amount":"10.00","value":"10.00"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Payment failed: %d %s", w.Code, w.Body.String())
	}
	resp := parseJSON(t, w)
	p := resp["payment"].(map[string]interface{})
	if p["fee"] != "0.250000" || p["net"] != "9.750000" {
		t.Errorf("fee/net = %v/%v", p["fee"], p["net"])
	}

	// Payee received the net
	w = do(s, "GET", "/v1/accounts/"+testPayee+"/balance", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Balance failed: %d", w.Code)
	}
	resp = parseJSON(t, w)
	b := resp["balance"].(map[string]interface{})
	if b["available"] != "9.750000" {
		t.Errorf("payee available = %v, want 9.750000", b["available"])
	}

	// One event appended
	w = do(s, "GET", "/v1/events", "", "")
	resp = parseJSON(t, w)
	evts := resp["events"].([]interface{})
	if len(evts) != 1 {
		t.Fatalf("events = %d, want 1", len(evts))
	}
}

// ---------------------------------------------------------------------------
// End-to-end escrow flow with custody audit
// ---------------------------------------------------------------------------

func TestEscrowFlowWithAudit(t *testing.T) {
	s := newTestServer(t)

	do(s, "POST", "/v1/deposits", testPayer, `{"address":"`+testPayer+`","amount":"100.00","reference":"dep-1"}`)

	w := do(s, "POST", "/v1/escrows", testPayer, `{"payee":"`+testPayee+`","amount":"20.00","value":"20.00","terms":"logo design"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Escrow create failed: %d %s", w.Code, w.Body.String())
	}
	resp := parseJSON(t, w)
	e := resp["escrow"].(map[string]interface{})
	id := e["id"].(string)
	if e["state"] != "funded" {
		t.Errorf("state = %v", e["state"])
	}

	// Funded escrow shows up in the custody audit
	w = do(s, "GET", "/v1/audit/custody", "", "")
	resp = parseJSON(t, w)
	if resp["count"].(float64) != 1 {
		t.Errorf("open custody = %v, want 1", resp["count"])
	}

	// Payee cannot release an escrow without a release time
	w = do(s, "POST", "/v1/escrows/"+id+"/release", testPayee, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for payee release, got %d", w.Code)
	}

	// Payer releases
	w = do(s, "POST", "/v1/escrows/"+id+"/release", testPayer, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Release failed: %d %s", w.Code, w.Body.String())
	}

	// Custody is clear again
	w = do(s, "GET", "/v1/audit/custody", "", "")
	resp = parseJSON(t, w)
	if resp["count"].(float64) != 0 {
		t.Errorf("open custody = %v, want 0", resp["count"])
	}

	// Payee got the full escrow amount; fees apply to direct payments only
	w = do(s, "GET", "/v1/accounts/"+testPayee+"/balance", "", "")
	resp = parseJSON(t, w)
	b := resp["balance"].(map[string]interface{})
	if b["available"] != "20.000000" {
		t.Errorf("payee available = %v, want 20.000000", b["available"])
	}
}

func TestDisputeAndResolveFlow(t *testing.T) {
	s := newTestServer(t)

	do(s, "POST", "/v1/deposits", testPayer, `{"address":"`+testPayer+`","amount":"100.00","reference":"dep-1"}`)

	w := do(s, "POST", "/v1/escrows", testPayer, `{"payee":"`+testPayee+`","amount":"30.00","value":"30.00"}`)
	resp := parseJSON(t, w)
	id := resp["escrow"].(map[string]interface{})["id"].(string)

	// Payee disputes
	w = do(s, "POST", "/v1/escrows/"+id+"/dispute", testPayee, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Dispute failed: %d %s", w.Code, w.Body.String())
	}

	// Only the arbiter may resolve
	w = do(s, "POST", "/v1/escrows/"+id+"/resolve", testPayer, `{"outcome":"refunded_to_payer"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for non-arbiter resolve, got %d", w.Code)
	}

	w = do(s, "POST", "/v1/escrows/"+id+"/resolve", testArbiter, `{"outcome":"refunded_to_payer"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Resolve failed: %d %s", w.Code, w.Body.String())
	}

	// Payer got the full amount back
	w = do(s, "GET", "/v1/accounts/"+testPayer+"/balance", "", "")
	resp = parseJSON(t, w)
	b := resp["balance"].(map[string]interface{})
	if b["available"] != "100.000000" {
		t.Errorf("payer available = %v, want 100.000000", b["available"])
	}
}

// ---------------------------------------------------------------------------
// Participant registration
// ---------------------------------------------------------------------------

func TestParticipantRegistration(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "POST", "/v1/participants", testPayer, `{"name":"Corner Cafe"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("Registration failed: %d %s", w.Code, w.Body.String())
	}

	w = do(s, "GET", "/v1/participants/"+testPayer, "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Lookup failed: %d", w.Code)
	}
	resp := parseJSON(t, w)
	p := resp["participant"].(map[string]interface{})
	if p["name"] != "Corner Cafe" {
		t.Errorf("name = %v", p["name"])
	}
}

// ---------------------------------------------------------------------------
// Address validation and 404
// ---------------------------------------------------------------------------

func TestInvalidAddressParam(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/v1/accounts/not-an-address/balance", "", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed address, got %d", w.Code)
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
