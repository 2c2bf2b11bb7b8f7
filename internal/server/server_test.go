package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"khata/internal/config"
	"khata/internal/db"
	"khata/internal/domain"
	"khata/internal/engine"
	"khata/internal/logger"
	"khata/internal/migrate"
)

func newTestServer(t *testing.T, auth AuthConfig) *httptest.Server {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Log = logger.Discard()
	auth.Logger = e.Log
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return srv
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	resp, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", resp.StatusCode, body)
	}
}

func TestGoalLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/goals", CreateGoalRequest{
		Title:        "Shop rent",
		MetricType:   "manual_check",
		TargetAmount: "2000",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create goal status %d: %s", resp.StatusCode, body)
	}
	var g domain.Goal
	if err := json.Unmarshal(body, &g); err != nil {
		t.Fatalf("decode goal: %v", err)
	}

	resp, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/goals/"+g.ID+"/progress", GoalProgressRequest{Amount: "2000", Mode: "set"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("progress status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &g); err != nil {
		t.Fatal(err)
	}
	if g.Status != domain.GoalCompleted {
		t.Fatalf("expected completed, got %s", g.Status)
	}

	resp, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/goals", CreateGoalRequest{
		Title: "Soap units", MetricType: "product_sales", TargetAmount: "50",
	}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for product goal without product, got %d: %s", resp.StatusCode, body)
	}
	if e := decodeError(t, body); e.Code != "invariant_violation" {
		t.Fatalf("unexpected error code %q", e.Code)
	}

	resp, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/goals", CreateGoalRequest{
		Title: "Bad", MetricType: "revenue", TargetAmount: "lots",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad amount, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/goals/missing", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestWaterfallEndpoint(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	today := time.Now().Format(domain.DateLayout)
	resp, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/goals", CreateGoalRequest{
		Title: "Stock", MetricType: "manual_check", TargetAmount: "1000", Deadline: &today,
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create goal status %d: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/waterfall", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("waterfall status %d: %s", resp.StatusCode, body)
	}
	var plan PlanResponse
	if err := json.Unmarshal(body, &plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(plan.Allocations) != 1 || plan.Allocations[0].IsFullyFunded {
		t.Fatalf("unexpected plan %+v", plan)
	}
}

func TestLedgerEndpoints(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	base := srv.URL + "/v1/parties/ravi/ledger"

	resp, body := doJSON(t, client, http.MethodPost, base+"/entries", LedgerEntryRequest{Kind: "due", Amount: "900"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("due status %d: %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, client, http.MethodPost, base+"/entries", LedgerEntryRequest{Kind: "payment", Amount: "300"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("payment status %d: %s", resp.StatusCode, body)
	}
	var view engine.LedgerView
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decode ledger: %v", err)
	}
	if !view.Balance.Equal(decimal.NewFromInt(600)) || len(view.Entries) != 2 {
		t.Fatalf("unexpected ledger %+v", view)
	}

	resp, body = doJSON(t, client, http.MethodPost, base+"/deletions", LedgerDeleteRequest{Indexes: []int{7}}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown index, got %d: %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, client, http.MethodPost, base+"/deletions", LedgerDeleteRequest{Indexes: []int{1}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatal(err)
	}
	if !view.Balance.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("expected 900 after deleting payment, got %s", view.Balance)
	}

	resp, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/parties/nobody/ledger", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=ledger.", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", resp.StatusCode, body)
	}
	var events paginatedEvents
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatal(err)
	}
	if len(events.Items) != 3 {
		t.Fatalf("expected 3 ledger events, got %d", len(events.Items))
	}
}

func TestBearerAuth(t *testing.T) {
	secret := "test-secret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	client := srv.Client()

	resp, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should stay open, got %d", resp.StatusCode)
	}
	resp, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/goals", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if e := decodeError(t, body); e.Code != "unauthorized" {
		t.Fatalf("unexpected code %q", e.Code)
	}
	token, err := IssueToken(secret, "owner", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	resp, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/goals", nil, map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %s", resp.StatusCode, body)
	}
	bad, _ := IssueToken("other-secret", "owner", time.Hour, time.Now())
	resp, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/goals", nil, map[string]string{"Authorization": "Bearer " + bad})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", resp.StatusCode)
	}
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.ConflictError{RecordID: "r1"}, http.StatusConflict, "conflict"},
		{domain.Violation(domain.ErrLegacyEntry, "x"), http.StatusUnprocessableEntity, "invariant_violation"},
		{&domain.DataSourceError{Op: "query", Err: errors.New("disk")}, http.StatusInternalServerError, "data_source_error"},
		{engine.ErrUnrecognized, http.StatusUnprocessableEntity, "unrecognized_intent"},
		{errors.New("title is required"), http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		ae, ok := se.(*apiError)
		if !ok {
			t.Fatalf("expected *apiError, got %T", se)
		}
		if ae.GetStatus() != tc.status || ae.Body.Code != tc.code {
			t.Fatalf("%v: got %d/%s", tc.err, ae.GetStatus(), ae.Body.Code)
		}
	}
}

func TestRateLimit(t *testing.T) {
	h := newRateLimitMiddleware(1, 1, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if first.Code != http.StatusNoContent || second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 204 then 429, got %d then %d", first.Code, second.Code)
	}
}

func TestOpenAPIConcurrentFetch(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	var wg sync.WaitGroup
	bodies := make([][]byte, 8)
	errs := make([]error, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer resp.Body.Close()
			bodies[i], errs[i] = io.ReadAll(resp.Body)
		}(i)
	}
	wg.Wait()
	for i := range bodies {
		if errs[i] != nil {
			t.Fatalf("fetch %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) || len(bodies[i]) == 0 {
			t.Fatalf("fetch %d returned a different document", i)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(bodies[0], &doc); err != nil || doc["openapi"] == nil {
		t.Fatalf("invalid openapi document: %v", err)
	}
}
