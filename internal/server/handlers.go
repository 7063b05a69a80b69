package server

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/splitpage/splitpage/internal/page"
	"github.com/splitpage/splitpage/internal/report"
	"go.uber.org/zap"
)

// maxPageBytes caps /apply request bodies.
const maxPageBytes = 4 << 20

func parsePage(r *http.Request) (*page.Document, error) {
	return page.Parse(io.LimitReader(r.Body, maxPageBytes))
}

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	experiments, err := s.store.ListExperiments(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var dbSize int64
	row := s.store.DB().QueryRow("SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
	if err := row.Scan(&dbSize); err != nil {
		dbSize = 0
	}

	response := HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(experiments),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// visitorID returns the vid query parameter or mints a fresh one. The
// second return value reports whether the ID was minted.
func visitorID(r *http.Request) (string, bool) {
	if vid := r.URL.Query().Get("vid"); vid != "" {
		return vid, false
	}
	return uuid.NewString(), true
}

// pageQuery parses the q parameter, which carries the visitor's page query
// string (the source of ab_* overrides and preview parameters). A malformed
// value degrades to no overrides.
func pageQuery(r *http.Request) url.Values {
	q, err := url.ParseQuery(r.URL.Query().Get("q"))
	if err != nil {
		return url.Values{}
	}
	return q
}

type ResolveResponse struct {
	VisitorID   string            `json:"visitor_id"`
	Assignments map[string]string `json:"assignments"`
	Preview     *PreviewResponse  `json:"preview,omitempty"`
}

type PreviewResponse struct {
	Test       string `json:"test"`
	Variant    string `json:"variant"`
	DismissURL string `json:"dismiss_url"`
}

// handleResolve runs the full assignment pipeline and returns the chosen
// variants as JSON, emitting one impression per experiment.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	vid, _ := visitorID(r)
	res := s.engine.Resolve(r.Context(), vid, pageQuery(r))
	s.engine.EmitImpressions(r.Context(), res)

	response := ResolveResponse{
		VisitorID:   res.VisitorID,
		Assignments: res.Assignments,
	}
	if res.Preview != nil {
		response.Preview = &PreviewResponse{
			Test:       res.Preview.Test,
			Variant:    res.Preview.Variant,
			DismissURL: s.engine.DismissURL(res),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleApply rewrites an HTML document: resolve variants for the visitor,
// apply each experiment's mutation, inject the preview badge when in
// preview mode, and emit impressions.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc, err := parsePage(r)
	if err != nil {
		http.Error(w, "Invalid HTML", http.StatusBadRequest)
		return
	}

	vid, _ := visitorID(r)
	res := s.engine.Resolve(r.Context(), vid, pageQuery(r))
	s.engine.Apply(doc, res)
	s.engine.EmitImpressions(r.Context(), res)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Splitpage-Visitor", res.VisitorID)
	if err := doc.Render(w); err != nil {
		s.log.Warn("failed to render document", zap.Error(err))
	}
}

// BeaconRequest is an incoming tracking event. Conversions carry either a
// routed control identifier or an explicit test/kind pair; funnel events
// carry a step name and optional scroll depth.
type BeaconRequest struct {
	Control   string   `json:"c,omitempty"`
	Test      string   `json:"t,omitempty"`
	Kind      string   `json:"k,omitempty"`
	EventType string   `json:"e"`
	VisitorID string   `json:"vid"`
	Step      string   `json:"s,omitempty"`
	Depth     *float64 `json:"depth,omitempty"`
}

func (s *Server) handleBeacon(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BeaconRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.VisitorID == "" {
		http.Error(w, "Missing visitor id", http.StatusBadRequest)
		return
	}

	switch req.EventType {
	case "convert":
		if req.Control != "" {
			s.engine.RouteConversion(r.Context(), req.VisitorID, req.Control)
		} else if req.Test != "" {
			s.engine.TrackConversion(r.Context(), req.VisitorID, req.Test, req.Kind)
		} else {
			http.Error(w, "Missing control or test", http.StatusBadRequest)
			return
		}
	case "funnel":
		if req.Step == "" {
			http.Error(w, "Missing funnel step", http.StatusBadRequest)
			return
		}
		s.trackFunnel(r, req)
	default:
		http.Error(w, "Invalid event type", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// trackFunnel forwards a funnel step to the collectors. Scroll depth is
// clamped into [0,100]; a missing or non-finite depth counts as 100 (a page
// with nothing to scroll has been fully seen).
func (s *Server) trackFunnel(r *http.Request, req BeaconRequest) {
	depth := 100.0
	if req.Depth != nil && !math.IsNaN(*req.Depth) && !math.IsInf(*req.Depth, 0) {
		depth = math.Min(100, math.Max(0, *req.Depth))
	}

	s.engine.Reporter().Track(r.Context(), report.EventFunnel, map[string]string{
		"step":       req.Step,
		"depth":      strconv.FormatFloat(depth, 'f', 0, 64),
		"visitor_id": req.VisitorID,
	})
}

// handleDismiss removes one experiment's persisted choice for the visitor.
// This is the preview badge's dismiss path. Accepts GET so the badge can be
// a plain link; the visitor is re-bucketed on the next load either way.
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	setCORS(w, "GET, DELETE, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodDelete && r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	testName := strings.TrimPrefix(r.URL.Path, "/api/assignments/")
	if testName == "" || strings.Contains(testName, "/") {
		http.Error(w, "Missing test name", http.StatusBadRequest)
		return
	}
	if unescaped, err := url.PathUnescape(testName); err == nil {
		testName = unescaped
	}

	vid := r.URL.Query().Get("vid")
	if vid == "" {
		http.Error(w, "Missing visitor id", http.StatusBadRequest)
		return
	}

	if err := s.engine.Dismiss(r.Context(), vid, testName); err != nil {
		http.Error(w, "Failed to remove assignment", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func setCORS(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
