// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// The router is wired to the in-memory store and ledger on a manual clock, so
// these tests cover:
//   - Gin routing and middleware wiring
//   - Request validation and engine error mapping (400/401/402/404/409)
//   - Response format consistency (success/error envelope)
//   - CORS preflight handling
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/evetabi/auction/internal/api"
	"github.com/evetabi/auction/internal/clock"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/domain"
	"github.com/evetabi/auction/internal/ledger"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Env:  "development",
			Port: "8080",
		},
		Auction: config.AuctionConfig{
			LockTimeout:        time.Second,
			SweepInterval:      time.Second,
			DefaultSnipeWindow: 2 * time.Minute,
			MaxSnipeWindow:     30 * time.Minute,
		},
		RateLimit: config.RateLimitConfig{BidRPS: 1000, BidBurst: 1000},
	}
}

type testServer struct {
	h   http.Handler
	clk *clock.Manual
}

// buildTestRouter wires the router the way cmd/server does, with a ledger
// that gives every user an opening balance of 1000.
func buildTestRouter(t *testing.T) *testServer {
	t.Helper()
	return buildTestRouterWithCfg(t, testCfg())
}

func buildTestRouterWithCfg(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	clk := clock.NewManual(t0)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewMemory(store.WithLockTimeout(cfg.Auction.LockTimeout))
	led := ledger.NewMemory(ledger.WithOpeningBalance(decimal.NewFromInt(1000)))
	policy := domain.DefaultIncrementPolicy()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := api.SetupRouter(ctx, api.RouterDeps{
		AuctionSvc: service.NewAuctionService(st, led, policy, clk, cfg.Auction, log),
		BidSvc:     service.NewBidService(st, led, policy, clk, log),
		Cfg:        cfg,
	})
	return &testServer{h: r, clk: clk}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != "" {
		buf = bytes.NewBufferString(body)
	} else {
		buf = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func as(user uuid.UUID) map[string]string {
	return map[string]string{"X-User-ID": user.String()}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&m); err != nil {
		t.Fatalf("response is not valid JSON: %v, body: %s", err, rr.Body.String())
	}
	return m
}

// createAuction posts an auction that started at t0 and ends an hour later,
// returning its id.
func createAuction(t *testing.T, s *testServer, host uuid.UUID, extra string) string {
	t.Helper()
	payload := `{"title":"Signed first edition","starting_bid":"100","ends_at":"` +
		t0.Add(time.Hour).Format(time.RFC3339) + `"` + extra + `}`
	rr := do(t, s.h, http.MethodPost, "/api/auctions", payload, as(host))
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST /api/auctions = %d, want 201, body: %s", rr.Code, rr.Body.String())
	}
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	if data["status"] != string(domain.StatusActive) {
		t.Fatalf("new auction status = %v, want active", data["status"])
	}
	return data["id"].(string)
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Errorf("response.success should be false on error, got %v", body["success"])
	}
	code, _ := body["code"].(string)
	return code
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
}

// ── Actor header ──────────────────────────────────────────────────────────────

func TestMutatingRoutes_RequireActor(t *testing.T) {
	s := buildTestRouter(t)
	id := uuid.New().String()
	cases := []struct{ method, path, body string }{
		{http.MethodPost, "/api/auctions", `{}`},
		{http.MethodPost, "/api/auctions/" + id + "/bids", `{"amount":"100"}`},
		{http.MethodPost, "/api/auctions/" + id + "/proxy-bids", `{"max_amount":"100"}`},
		{http.MethodPost, "/api/auctions/" + id + "/cancel", `{}`},
	}
	for _, tc := range cases {
		rr := do(t, s.h, tc.method, tc.path, tc.body, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s without X-User-ID = %d, want 401", tc.method, tc.path, rr.Code)
		}
		rr = do(t, s.h, tc.method, tc.path, tc.body, map[string]string{"X-User-ID": "nope"})
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s %s with bad X-User-ID = %d, want 401", tc.method, tc.path, rr.Code)
		}
	}
}

func TestReads_ArePublic(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodGet, "/api/auctions", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /api/auctions = %d, want 200", rr.Code)
	}
}

// ── Create ────────────────────────────────────────────────────────────────────

func TestCreateAuction_Validation(t *testing.T) {
	s := buildTestRouter(t)
	host := uuid.New()
	ends := t0.Add(time.Hour).Format(time.RFC3339)

	cases := []struct {
		name, payload, code string
	}{
		{"missing fields", `{}`, "ERR_VALIDATION"},
		{"bad amount", `{"title":"x","starting_bid":"abc","ends_at":"` + ends + `"}`, "ERR_INVALID_AMOUNT"},
		{"ends before start", `{"title":"x","starting_bid":"10","starts_at":"` + ends + `","ends_at":"` + ends + `"}`, "ERR_INVALID_SCHEDULE"},
		{"reserve below start", `{"title":"x","starting_bid":"10","reserve_price":"5","ends_at":"` + ends + `"}`, "ERR_INVALID_RESERVE"},
		{"snipe too large", `{"title":"x","starting_bid":"10","snipe_window_sec":7200,"ends_at":"` + ends + `"}`, "ERR_INVALID_SNIPE_WINDOW"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, s.h, http.MethodPost, "/api/auctions", tc.payload, as(host))
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body: %s", rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Errorf("code = %q, want %q", got, tc.code)
			}
		})
	}
}

// ── Bidding flow ──────────────────────────────────────────────────────────────

func TestBiddingFlow(t *testing.T) {
	s := buildTestRouter(t)
	host, alice, bob := uuid.New(), uuid.New(), uuid.New()
	id := createAuction(t, s, host, `,"reserve_price":"200"`)
	base := "/api/auctions/" + id

	// Alice sets a proxy; Bob's manual bid is answered automatically.
	rr := do(t, s.h, http.MethodPost, base+"/proxy-bids", `{"max_amount":"600"}`, as(alice))
	if rr.Code != http.StatusCreated {
		t.Fatalf("proxy bid = %d, body: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s.h, http.MethodPost, base+"/bids", `{"amount":"400"}`, as(bob))
	if rr.Code != http.StatusCreated {
		t.Fatalf("manual bid = %d, body: %s", rr.Code, rr.Body.String())
	}
	res := decodeBody(t, rr)["data"].(map[string]interface{})
	if res["won"] != false {
		t.Errorf("bob should have been outbid by the proxy")
	}
	if res["current_bid"] != "410" {
		t.Errorf("current_bid = %v, want 410", res["current_bid"])
	}

	// Too low.
	rr = do(t, s.h, http.MethodPost, base+"/bids", `{"amount":"411"}`, as(bob))
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "ERR_BID_TOO_LOW" {
		t.Errorf("low bid = %d, want 400 ERR_BID_TOO_LOW", rr.Code)
	}

	// Leader bidding again.
	rr = do(t, s.h, http.MethodPost, base+"/bids", `{"amount":"500"}`, as(alice))
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "ERR_SELF_OUTBID" {
		t.Errorf("self outbid = %d, want 400 ERR_SELF_OUTBID", rr.Code)
	}

	// More than the opening balance.
	rr = do(t, s.h, http.MethodPost, base+"/bids", `{"amount":"5000"}`, as(uuid.New()))
	if rr.Code != http.StatusPaymentRequired || errorCode(t, rr) != "ERR_INSUFFICIENT_FUNDS" {
		t.Errorf("unfunded bid = %d, want 402 ERR_INSUFFICIENT_FUNDS", rr.Code)
	}

	// Reads.
	rr = do(t, s.h, http.MethodGet, base, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("GET auction = %d", rr.Code)
	}
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	if data["minimum_next_bid"] != "420" {
		t.Errorf("minimum_next_bid = %v, want 420", data["minimum_next_bid"])
	}
	auction := data["auction"].(map[string]interface{})
	if _, leaked := auction["reserve_price"]; leaked {
		t.Error("reserve price must not be exposed")
	}

	rr = do(t, s.h, http.MethodGet, base+"/bids", "", nil)
	bids := decodeBody(t, rr)["data"].([]interface{})
	if len(bids) != 3 {
		t.Errorf("bids = %d, want 3 (proxy, manual, counter)", len(bids))
	}
	if strings.Contains(rr.Body.String(), `"600"`) {
		t.Error("proxy maximum must not be exposed")
	}

	rr = do(t, s.h, http.MethodGet, base+"/history/verify", "", nil)
	audit := decodeBody(t, rr)["data"].(map[string]interface{})
	if audit["intact"] != true {
		t.Errorf("history audit = %v, want intact", audit)
	}

	rr = do(t, s.h, http.MethodGet, "/api/auctions?status=active&limit=5", "", nil)
	list := decodeBody(t, rr)
	meta := list["meta"].(map[string]interface{})
	if meta["total"] != float64(1) || meta["limit"] != float64(5) {
		t.Errorf("list meta = %v", meta)
	}

	// After the end the auction is sold and further bids conflict.
	s.clk.Advance(2 * time.Hour)
	rr = do(t, s.h, http.MethodPost, base+"/bids", `{"amount":"900"}`, as(bob))
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "ERR_AUCTION_NOT_ACTIVE" {
		t.Errorf("late bid = %d, want 409 ERR_AUCTION_NOT_ACTIVE", rr.Code)
	}
	rr = do(t, s.h, http.MethodGet, base+"/history", "", nil)
	entries := decodeBody(t, rr)["data"].([]interface{})
	last := entries[len(entries)-1].(map[string]interface{})
	if last["event_type"] != string(domain.EventSold) {
		t.Errorf("last history entry = %v, want sold", last["event_type"])
	}
}

func TestCancelAuction(t *testing.T) {
	s := buildTestRouter(t)
	host := uuid.New()
	id := createAuction(t, s, host, "")

	rr := do(t, s.h, http.MethodPost, "/api/auctions/"+id+"/cancel", `{"reason":"withdrawn"}`, as(host))
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel = %d, body: %s", rr.Code, rr.Body.String())
	}
	data := decodeBody(t, rr)["data"].(map[string]interface{})
	if data["status"] != string(domain.StatusCancelled) {
		t.Errorf("status = %v, want cancelled", data["status"])
	}

	rr = do(t, s.h, http.MethodPost, "/api/auctions/"+id+"/cancel", "", as(host))
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "ERR_AUCTION_CLOSED" {
		t.Errorf("second cancel = %d, want 409 ERR_AUCTION_CLOSED", rr.Code)
	}
}

// ── Not found / bad ids ───────────────────────────────────────────────────────

func TestUnknownAuction_Returns404(t *testing.T) {
	s := buildTestRouter(t)
	id := uuid.New().String()
	for _, path := range []string{"/api/auctions/" + id, "/api/auctions/" + id + "/bids", "/api/auctions/" + id + "/history"} {
		rr := do(t, s.h, http.MethodGet, path, "", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rr.Code)
		}
	}
	rr := do(t, s.h, http.MethodPost, "/api/auctions/"+id+"/bids", `{"amount":"100"}`, as(uuid.New()))
	if rr.Code != http.StatusNotFound || errorCode(t, rr) != "ERR_AUCTION_NOT_FOUND" {
		t.Errorf("bid on unknown auction = %d, want 404", rr.Code)
	}
}

func TestInvalidAuctionID_Returns400(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodGet, "/api/auctions/not-a-uuid", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET with bad id = %d, want 400", rr.Code)
	}
}

func TestListAuctions_BadStatus(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodGet, "/api/auctions?status=bogus", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET with bad status = %d, want 400", rr.Code)
	}
}

// ── Rate limiting ─────────────────────────────────────────────────────────────

func TestBidRateLimit(t *testing.T) {
	cfg := testCfg()
	cfg.RateLimit = config.RateLimitConfig{BidRPS: 0.001, BidBurst: 2}
	s := buildTestRouterWithCfg(t, cfg)
	bidder := uuid.New()
	id := uuid.New().String()

	for i := 0; i < 2; i++ {
		rr := do(t, s.h, http.MethodPost, "/api/auctions/"+id+"/bids", `{"amount":"100"}`, as(bidder))
		if rr.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d within burst was limited", i)
		}
	}
	rr := do(t, s.h, http.MethodPost, "/api/auctions/"+id+"/bids", `{"amount":"100"}`, as(bidder))
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("request over burst = %d, want 429", rr.Code)
	}
}

// ── Error envelope format ─────────────────────────────────────────────────────

func TestErrorEnvelope_HasRequiredFields(t *testing.T) {
	s := buildTestRouter(t)
	rr := do(t, s.h, http.MethodPost, "/api/auctions", `{}`, as(uuid.New()))
	body := decodeBody(t, rr)

	for _, field := range []string{"success", "error", "code"} {
		if _, ok := body[field]; !ok {
			t.Errorf("error envelope missing field %q, got: %v", field, body)
		}
	}
	if body["success"] != false {
		t.Errorf("error envelope.success = %v, want false", body["success"])
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	s := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auctions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	s.h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent && rr.Code != http.StatusOK {
		t.Errorf("OPTIONS /api/auctions = %d, want 204 or 200", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allow, "X-User-ID") {
		t.Errorf("Access-Control-Allow-Headers missing X-User-ID, got %q", allow)
	}
}

func TestCORSAllowOrigin_Prod(t *testing.T) {
	cfg := testCfg()
	cfg.Server.Env = "production"
	cfg.Server.AllowedOrigins = []string{"https://auctions.example.com"}
	s := buildTestRouterWithCfg(t, cfg)

	for origin, want := range map[string]string{
		"https://auctions.example.com": "https://auctions.example.com",
		"https://evil.example.com":     "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		s.h.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: Access-Control-Allow-Origin = %q, want %q", origin, got, want)
		}
	}
}
