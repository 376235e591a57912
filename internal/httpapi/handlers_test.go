package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/domain"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/monitor"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
)

// ---- test helpers ----

func fakeChecker(code int) probe.Checker {
	return probe.CheckerFunc(func(_ context.Context, _ string, _ probe.Options) domain.CheckResult {
		ms := 7.0
		return domain.CheckResult{Kind: domain.CheckUp, StatusCode: &code, ResponseTimeMS: &ms, CheckedAt: time.Now().UTC()}
	})
}

func setup(t *testing.T) *httptest.Server {
	t.Helper()
	log := zap.NewNop()
	store := memory.New()
	eng := monitor.New(log, store, fakeChecker(201), nil, monitor.Config{DefaultMaxRetries: 4})
	t.Cleanup(eng.StopAll)

	srv := NewServer(log, eng, store, eng.Stats())
	keys := apimw.Keys{
		Public: []string{"pub_test"},
		Admin:  []string{"adm_test"},
	}
	// very high rate limits to avoid flakiness in tests
	ts := httptest.NewServer(srv.Router(keys, nil, Limits{10_000, 10_000, 10_000, 10_000}))
	t.Cleanup(ts.Close)
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, path, key, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	}
	req, _ := http.NewRequest(method, ts.URL+path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type targetJSON struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	URL             string `json:"url"`
	Name            string `json:"name"`
	IntervalSeconds int    `json:"interval_seconds"`
	MaxRetries      int    `json:"max_retries"`
	Active          bool   `json:"active"`
	Monitoring      bool   `json:"monitoring"`
}

func addExample(t *testing.T, ts *httptest.Server) targetJSON {
	t.Helper()
	var tg targetJSON
	if code := call(t, ts, http.MethodPost, "/api/targets", "adm_test", `{"url":"https://EXAMPLE.com/","owner_id":"alice"}`, &tg); code != http.StatusCreated {
		t.Fatalf("want 201, got %d", code)
	}
	return tg
}

// ---- tests ----

func TestAddTarget_OK_Duplicate_Invalid(t *testing.T) {
	ts := setup(t)

	tg := addExample(t, ts)
	if tg.URL != "https://example.com" || tg.OwnerID != "alice" || tg.ID == "" {
		t.Fatalf("unexpected target: %+v", tg)
	}
	if tg.IntervalSeconds != domain.DefaultIntervalSeconds || tg.MaxRetries != 4 || !tg.Active {
		t.Fatalf("defaults not applied: %+v", tg)
	}

	var explicit targetJSON
	if code := call(t, ts, http.MethodPost, "/api/targets", "adm_test", `{"url":"https://zero.example.com","owner_id":"alice","max_retries":0}`, &explicit); code != http.StatusCreated {
		t.Fatalf("want 201, got %d", code)
	}
	if explicit.MaxRetries != 0 {
		t.Fatalf("payload max_retries must win, got %d", explicit.MaxRetries)
	}

	cases := []struct {
		name, key, body string
		want            int
	}{
		{"duplicate", "adm_test", `{"url":"https://example.com:443","owner_id":"alice"}`, http.StatusConflict},
		{"invalid url", "adm_test", `{"url":"ftp://bad","owner_id":"alice"}`, http.StatusBadRequest},
		{"missing owner", "adm_test", `{"url":"https://other.example.com"}`, http.StatusBadRequest},
		{"bad cadence", "adm_test", `{"url":"https://other.example.com","owner_id":"alice","timeout_seconds":-1}`, http.StatusBadRequest},
		{"bad json", "adm_test", `{`, http.StatusBadRequest},
		{"public key", "pub_test", `{"url":"https://other.example.com","owner_id":"alice"}`, http.StatusForbidden},
		{"no key", "", `{"url":"https://other.example.com","owner_id":"alice"}`, http.StatusUnauthorized},
	}
	for _, c := range cases {
		if code := call(t, ts, http.MethodPost, "/api/targets", c.key, c.body, nil); code != c.want {
			t.Fatalf("%s: want %d, got %d", c.name, c.want, code)
		}
	}
}

func TestListGetAndCheck(t *testing.T) {
	ts := setup(t)
	tg := addExample(t, ts)

	var list []targetJSON
	if code := call(t, ts, http.MethodGet, "/api/targets?owner=alice", "pub_test", "", &list); code != 200 {
		t.Fatalf("want 200 list, got %d", code)
	}
	if len(list) != 1 || list[0].URL != "https://example.com" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if code := call(t, ts, http.MethodGet, "/api/targets?owner=bob", "pub_test", "", &list); code != 200 || len(list) != 0 {
		t.Fatalf("want empty list for bob, got %d %+v", code, list)
	}

	var got targetJSON
	if code := call(t, ts, http.MethodGet, "/api/targets/"+tg.ID, "pub_test", "", &got); code != 200 || !got.Monitoring {
		t.Fatalf("want monitored target, got %d %+v", code, got)
	}

	var checked struct {
		Status string `json:"status"`
		Result struct {
			StatusCode int `json:"status_code"`
		} `json:"result"`
	}
	if code := call(t, ts, http.MethodPost, "/api/targets/"+tg.ID+"/check", "adm_test", "", &checked); code != 200 {
		t.Fatalf("want 200 check, got %d", code)
	}
	if checked.Status != "up" || checked.Result.StatusCode != 201 {
		t.Fatalf("unexpected check: %+v", checked)
	}

	var hist []map[string]any
	if code := call(t, ts, http.MethodGet, "/api/targets/"+tg.ID+"/history?limit=5", "pub_test", "", &hist); code != 200 || len(hist) == 0 {
		t.Fatalf("want history rows, got %d %d", code, len(hist))
	}
	if int(hist[0]["status_code"].(float64)) != 201 {
		t.Fatalf("unexpected history row: %v", hist[0])
	}

	var st struct {
		TotalChecks int64   `json:"total_checks"`
		Uptime      float64 `json:"uptime_percentage"`
	}
	if code := call(t, ts, http.MethodGet, "/api/targets/"+tg.ID+"/stats", "pub_test", "", &st); code != 200 {
		t.Fatalf("want 200 stats, got %d", code)
	}
	if st.TotalChecks < 1 || st.Uptime != 100 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	var incs []map[string]any
	if code := call(t, ts, http.MethodGet, "/api/targets/"+tg.ID+"/incidents", "pub_test", "", &incs); code != 200 || len(incs) != 0 {
		t.Fatalf("want no incidents, got %d %v", code, incs)
	}

	if code := call(t, ts, http.MethodGet, "/api/targets/missing", "pub_test", "", nil); code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
	if code := call(t, ts, http.MethodGet, "/api/targets/missing/history", "pub_test", "", nil); code != http.StatusNotFound {
		t.Fatalf("want 404 history, got %d", code)
	}
}

func TestStartStopUpdateDelete(t *testing.T) {
	ts := setup(t)
	tg := addExample(t, ts)

	var got targetJSON
	if code := call(t, ts, http.MethodPost, "/api/targets/"+tg.ID+"/stop", "adm_test", "", &got); code != 200 {
		t.Fatalf("stop: %d", code)
	}
	if got.Active || got.Monitoring {
		t.Fatalf("want stopped target, got %+v", got)
	}
	if code := call(t, ts, http.MethodPost, "/api/targets/"+tg.ID+"/start", "adm_test", "", &got); code != 200 {
		t.Fatalf("start: %d", code)
	}
	if !got.Active || !got.Monitoring {
		t.Fatalf("want running target, got %+v", got)
	}

	if code := call(t, ts, http.MethodPatch, "/api/targets/"+tg.ID, "adm_test", `{"name":"Example","interval_seconds":60}`, &got); code != 200 {
		t.Fatalf("patch: %d", code)
	}
	if got.Name != "Example" || got.IntervalSeconds != 60 {
		t.Fatalf("patch not applied: %+v", got)
	}
	if code := call(t, ts, http.MethodPatch, "/api/targets/"+tg.ID, "adm_test", `{"interval_seconds":0}`, nil); code != http.StatusBadRequest {
		t.Fatalf("want 400 for invalid patch, got %d", code)
	}
	if code := call(t, ts, http.MethodPatch, "/api/targets/"+tg.ID, "adm_test", `{}`, nil); code != http.StatusBadRequest {
		t.Fatalf("want 400 for empty patch, got %d", code)
	}

	if code := call(t, ts, http.MethodDelete, "/api/targets/"+tg.ID, "adm_test", "", nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if code := call(t, ts, http.MethodGet, "/api/targets/"+tg.ID, "pub_test", "", nil); code != http.StatusNotFound {
		t.Fatalf("want 404 after delete, got %d", code)
	}
	if code := call(t, ts, http.MethodDelete, "/api/targets/"+tg.ID, "adm_test", "", nil); code != http.StatusNotFound {
		t.Fatalf("want 404 on second delete, got %d", code)
	}
}

func TestOwnerSummaryAndReport(t *testing.T) {
	ts := setup(t)
	tg := addExample(t, ts)
	if code := call(t, ts, http.MethodPost, "/api/targets/"+tg.ID+"/check", "adm_test", "", nil); code != 200 {
		t.Fatalf("check: %d", code)
	}

	var sum struct {
		Total int `json:"total"`
		Up    int `json:"up"`
	}
	if code := call(t, ts, http.MethodGet, "/api/owners/alice/summary", "pub_test", "", &sum); code != 200 {
		t.Fatalf("summary: %d", code)
	}
	if sum.Total != 1 || sum.Up != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}

	var rep struct {
		Targets int   `json:"targets"`
		Checks  int64 `json:"checks"`
	}
	if code := call(t, ts, http.MethodPost, "/api/owners/alice/report", "adm_test", "", &rep); code != 200 {
		t.Fatalf("report: %d", code)
	}
	if rep.Targets != 1 || rep.Checks < 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if code := call(t, ts, http.MethodPost, "/api/owners/nobody/report", "adm_test", "", nil); code != http.StatusUnprocessableEntity {
		t.Fatalf("want 422 for owner without targets, got %d", code)
	}

	var ns []map[string]any
	if code := call(t, ts, http.MethodGet, "/api/notifications?recipient=alice", "pub_test", "", &ns); code != 200 || len(ns) != 1 {
		t.Fatalf("want the report audited, got %d %v", code, ns)
	}
	if ns[0]["type"] != "report" {
		t.Fatalf("unexpected notification: %v", ns[0])
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := setup(t)
	if code := call(t, ts, http.MethodGet, "/api/targets", "pub_test", "", nil); code != 200 {
		t.Fatalf("list: %d", code)
	}

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `sitewatch_http_requests_total{method="GET",route="/api/targets",status="200"}`) {
		t.Fatalf("route metric missing from /metrics")
	}
}
