package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/splitpage/splitpage/internal/config"
	"github.com/splitpage/splitpage/internal/experiment"
	"github.com/splitpage/splitpage/internal/report"
	"github.com/splitpage/splitpage/internal/server"
	"github.com/splitpage/splitpage/internal/store"
	"go.uber.org/zap"
)

func setupTestServer(t *testing.T) (*server.Server, *store.SQLiteStore) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	experiments, routes, err := experiment.FromConfig(cfg)
	if err != nil {
		t.Fatalf("failed to build experiments: %v", err)
	}

	engine := experiment.New(experiments, routes, experiment.Options{
		Store:    s,
		Prefix:   cfg.Storage.Prefix,
		Reporter: report.NewDispatcher(true, zap.NewNop(), report.NewStoreCollector(s)),
	})
	if err := engine.EnsureExperiments(context.Background()); err != nil {
		t.Fatalf("failed to sync experiments: %v", err)
	}

	return server.New(s, engine, 8080, "", zap.NewNop()), s
}

func TestHealth(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp server.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status ok, got %s", resp.Status)
	}
	if resp.ExperimentsCount != 3 {
		t.Errorf("expected 3 experiments, got %d", resp.ExperimentsCount)
	}
}

func TestResolve_ReturnsValidAssignments(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/resolve?vid=visitor1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp server.ResolveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.VisitorID != "visitor1" {
		t.Errorf("expected visitor1, got %s", resp.VisitorID)
	}
	if len(resp.Assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(resp.Assignments))
	}

	allowed := map[string][]string{
		"hero_headline":    {"A", "B"},
		"cta_button_color": {"blue", "yellow"},
		"why_now_text":     {"A", "B"},
	}
	for test, variant := range resp.Assignments {
		found := false
		for _, v := range allowed[test] {
			if v == variant {
				found = true
			}
		}
		if !found {
			t.Errorf("assignment %q for %s not in allowed set", variant, test)
		}
	}
}

func TestResolve_StickyAcrossRequests(t *testing.T) {
	srv, _ := setupTestServer(t)

	resolve := func() map[string]string {
		req := httptest.NewRequest(http.MethodGet, "/resolve?vid=visitor1", nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		var resp server.ResolveResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		return resp.Assignments
	}

	first := resolve()
	for i := 0; i < 5; i++ {
		again := resolve()
		for test, variant := range first {
			if again[test] != variant {
				t.Errorf("assignment for %s flipped from %s to %s", test, variant, again[test])
			}
		}
	}
}

func TestResolve_MintsVisitorIDWhenMissing(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/resolve", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp server.ResolveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.VisitorID == "" {
		t.Error("expected a minted visitor id")
	}
}

func TestResolve_URLOverrideFromPageQuery(t *testing.T) {
	srv, s := setupTestServer(t)

	q := url.QueryEscape("ab_cta_button_color=yellow")
	req := httptest.NewRequest(http.MethodGet, "/resolve?vid=visitor1&q="+q, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp server.ResolveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Assignments["cta_button_color"] != "yellow" {
		t.Errorf("expected yellow from override, got %s", resp.Assignments["cta_button_color"])
	}

	stored, err := s.GetAssignment(context.Background(), "visitor1", "ab_cta_button_color")
	if err != nil {
		t.Fatalf("expected override persisted: %v", err)
	}
	if stored != "yellow" {
		t.Errorf("expected yellow persisted, got %s", stored)
	}
}

func TestResolve_EmitsImpressions(t *testing.T) {
	srv, s := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/resolve?vid=visitor1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	events, err := s.GetEvents(context.Background(), "hero_headline")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != "view" {
		t.Errorf("expected one view event for hero_headline, got %+v", events)
	}
}

const landingHTML = `<html><head><title>Landing</title></head><body>
<h1 data-sp-slot="hero-headline">Placeholder</h1>
<a data-sp-slot="cta" class="btn" href="/signup">Sign up</a>
<p data-sp-slot="why-now">Placeholder copy</p>
</body></html>`

func TestApply_RewritesHTML(t *testing.T) {
	srv, _ := setupTestServer(t)

	q := url.QueryEscape("ab_hero_headline=B&ab_cta_button_color=yellow&ab_why_now_text=A")
	req := httptest.NewRequest(http.MethodPost, "/apply?vid=visitor1&q="+q, strings.NewReader(landingHTML))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Splitpage-Visitor") != "visitor1" {
		t.Errorf("expected visitor header, got %q", rec.Header().Get("X-Splitpage-Visitor"))
	}

	out := rec.Body.String()
	if strings.Contains(out, "Placeholder</h1>") {
		t.Error("expected headline replaced")
	}
	if !strings.Contains(out, "cta--yellow") {
		t.Error("expected yellow cta class applied")
	}
}

func TestApply_IsIdempotent(t *testing.T) {
	srv, _ := setupTestServer(t)

	apply := func(body string) string {
		q := url.QueryEscape("ab_hero_headline=B&ab_cta_button_color=yellow&ab_why_now_text=A")
		req := httptest.NewRequest(http.MethodPost, "/apply?vid=visitor1&q="+q, strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		return rec.Body.String()
	}

	once := apply(landingHTML)
	twice := apply(once)

	if once != twice {
		t.Errorf("re-applying the same variants changed the document:\n--- once ---\n%s\n--- twice ---\n%s", once, twice)
	}
}

func TestApply_PreviewInjectsBadge(t *testing.T) {
	srv, _ := setupTestServer(t)

	q := url.QueryEscape("ab_preview=why_now_text&ab_variant=A")
	req := httptest.NewRequest(http.MethodPost, "/apply?vid=visitor1&q="+q, strings.NewReader(landingHTML))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	out := rec.Body.String()
	if !strings.Contains(out, "sp-preview-badge") {
		t.Error("expected preview badge injected")
	}
	if !strings.Contains(out, "/api/assignments/why_now_text?vid=visitor1") {
		t.Error("expected dismiss link in badge")
	}
}

func TestBeacon_ConversionViaControlRoute(t *testing.T) {
	srv, s := setupTestServer(t)

	// Resolve first so the visitor has a persisted variant
	req := httptest.NewRequest(http.MethodGet, "/resolve?vid=visitor1", nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	payload, _ := json.Marshal(map[string]any{
		"c": "cta-click", "e": "convert", "vid": "visitor1",
	})
	req = httptest.NewRequest(http.MethodPost, "/b", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	stats, err := s.GetVariantStats(context.Background(), "cta_button_color")
	if err != nil {
		t.Fatalf("failed to get stats: %v", err)
	}
	totalConversions := 0
	for _, vs := range stats {
		totalConversions += vs.Conversions
	}
	if totalConversions != 1 {
		t.Errorf("expected 1 conversion recorded, got %d", totalConversions)
	}
}

func TestBeacon_ConversionWithoutResolutionIsNoop(t *testing.T) {
	srv, s := setupTestServer(t)

	payload, _ := json.Marshal(map[string]any{
		"t": "cta_button_color", "k": "click", "e": "convert", "vid": "stranger",
	})
	req := httptest.NewRequest(http.MethodPost, "/b", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	events, err := s.GetEvents(context.Background(), "cta_button_color")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events for unresolved visitor, got %d", len(events))
	}
}

func TestBeacon_FunnelEvent(t *testing.T) {
	srv, _ := setupTestServer(t)

	payload, _ := json.Marshal(map[string]any{
		"e": "funnel", "s": "scroll_75", "vid": "visitor1", "depth": 140.5,
	})
	req := httptest.NewRequest(http.MethodPost, "/b", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBeacon_Validation(t *testing.T) {
	srv, _ := setupTestServer(t)

	cases := []map[string]any{
		{"e": "convert"},                               // no visitor
		{"e": "convert", "vid": "v1"},                  // no control or test
		{"e": "funnel", "vid": "v1"},                   // no step
		{"e": "teleport", "vid": "v1", "s": "scroll"},  // bad event type
	}

	for _, payload := range cases {
		body, _ := json.Marshal(payload)
		req := httptest.NewRequest(http.MethodPost, "/b", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("payload %v: expected 400, got %d", payload, rec.Code)
		}
	}
}

// capturingCollector records every delivered event for inspection.
type capturingCollector struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Name  string
	Props map[string]string
}

func (c *capturingCollector) Name() string { return "capturing" }

func (c *capturingCollector) Track(_ context.Context, event string, props map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Name: event, Props: props})
	return nil
}

func (c *capturingCollector) byName(name string) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// setupCapturingServer wires a capturing collector instead of the store
// collector so tests can inspect emitted event properties.
func setupCapturingServer(t *testing.T) (*server.Server, *capturingCollector) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := config.Default()
	experiments, routes, err := experiment.FromConfig(cfg)
	if err != nil {
		t.Fatalf("failed to build experiments: %v", err)
	}

	collector := &capturingCollector{}
	engine := experiment.New(experiments, routes, experiment.Options{
		Store:    s,
		Prefix:   cfg.Storage.Prefix,
		Reporter: report.NewDispatcher(true, zap.NewNop(), collector),
	})
	if err := engine.EnsureExperiments(context.Background()); err != nil {
		t.Fatalf("failed to sync experiments: %v", err)
	}

	return server.New(s, engine, 8080, "", zap.NewNop()), collector
}

func TestBeacon_FunnelDepthClamped(t *testing.T) {
	srv, collector := setupCapturingServer(t)

	depth := func(v float64) *float64 { return &v }

	cases := []struct {
		name  string
		depth *float64
		want  string
	}{
		{"over 100 clamps down", depth(140.5), "100"},
		{"negative clamps up", depth(-3.2), "0"},
		{"missing counts as fully seen", nil, "100"},
		{"in range passes through", depth(42), "42"},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]any{"e": "funnel", "s": "scroll", "vid": "visitor1"}
			if tc.depth != nil {
				payload["depth"] = *tc.depth
			}
			body, _ := json.Marshal(payload)

			req := httptest.NewRequest(http.MethodPost, "/b", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
			}

			funnels := collector.byName(report.EventFunnel)
			if len(funnels) != i+1 {
				t.Fatalf("expected %d funnel events so far, got %d", i+1, len(funnels))
			}
			if got := funnels[i].Props["depth"]; got != tc.want {
				t.Errorf("expected depth %s, got %s", tc.want, got)
			}
			if funnels[i].Props["step"] != "scroll" {
				t.Errorf("expected step forwarded, got %v", funnels[i].Props)
			}
		})
	}
}

func TestDismiss_RemovesSingleAssignment(t *testing.T) {
	srv, s := setupTestServer(t)
	ctx := context.Background()

	// Enter preview, persisting the forced choice (plus normal choices)
	q := url.QueryEscape("ab_preview=why_now_text&ab_variant=A")
	req := httptest.NewRequest(http.MethodGet, "/resolve?vid=visitor1&q="+q, nil)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodDelete, "/api/assignments/why_now_text?vid=visitor1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	if _, err := s.GetAssignment(ctx, "visitor1", "ab_why_now_text"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected why_now_text choice removed, got %v", err)
	}
	// Other experiments keep their persisted choices
	if _, err := s.GetAssignment(ctx, "visitor1", "ab_hero_headline"); err != nil {
		t.Errorf("expected hero_headline choice untouched, got %v", err)
	}
}

func TestDismiss_RequiresVisitorID(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/assignments/why_now_text", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDashboard_RequiresToken(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
}

func TestDashboard_RejectsWrongToken(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard?token=wrong", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong query token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "sp_token", Value: "wrong"})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong cookie, got %d", rec.Code)
	}
}

func TestDashboard_TokenExchangesForCookie(t *testing.T) {
	srv, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/dashboard?token="+srv.Token(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect after token exchange, got %d", rec.Code)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "sp_token" {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected sp_token cookie set")
	}

	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with cookie, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hero_headline") {
		t.Error("expected dashboard to list configured experiments")
	}
}
