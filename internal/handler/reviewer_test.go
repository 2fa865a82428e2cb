package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"reviewscout/internal/model"
	"reviewscout/internal/service"
	"reviewscout/pkg/metrics"
)

type fakeAnalyzer struct {
	calls  int
	result *model.AnalysisResult
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req service.AnalysisRequest) (*model.AnalysisResult, error) {
	f.calls++
	if strings.TrimSpace(req.ProposalText) == "" {
		return nil, service.ErrEmptyProposal
	}
	return f.result, f.err
}

type fakeDiscoverer struct {
	got model.AnalysisResult
	err error
}

func (f *fakeDiscoverer) Discover(ctx context.Context, req service.DiscoveryRequest, progress chan<- model.ProgressEvent) (*model.DiscoveryResult, error) {
	f.got = *req.Analysis
	if progress != nil {
		progress <- model.ProgressEvent{Stage: model.StageVerification, Status: model.StatusRunning, Message: "verifying 1 suggested reviewers"}
		progress <- model.ProgressEvent{Stage: model.StageVerification, Status: model.StatusDone, Message: "verified 1"}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.DiscoveryResult{
		RunID:  req.RunID,
		Ranked: []model.Candidate{{Name: "Jane Smith", Status: model.StatusVerified}},
	}, nil
}

func testAnalysis() *model.AnalysisResult {
	return &model.AnalysisResult{
		Proposal:    model.ProposalInfo{Title: "Base editing in primates"},
		Suggestions: []model.SuggestedReviewer{{Name: "Jane Smith"}},
	}
}

func newTestServer(a *fakeAnalyzer, d *fakeDiscoverer) http.Handler {
	mux := http.NewServeMux()
	NewReviewerHandler(a, d).Register(mux)
	return MetricsMiddleware(CORSMiddleware(mux))
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func sseEvents(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" {
			continue
		}
		var ev map[string]interface{}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestAnalyzeEndpoint(t *testing.T) {
	a := &fakeAnalyzer{result: testAnalysis()}
	h := newTestServer(a, &fakeDiscoverer{})

	rec := do(h, http.MethodPost, "/api/reviewers/analyze", `{"proposal_text":"We propose base editing."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var got model.AnalysisResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil || got.Proposal.Title != "Base editing in primates" {
		t.Errorf("response = %+v, %v", got, err)
	}

	testCases := []struct {
		name   string
		method string
		body   string
		err    error
		want   int
	}{
		{"empty proposal", http.MethodPost, `{"proposal_text":"  "}`, nil, http.StatusBadRequest},
		{"bad json", http.MethodPost, `{`, nil, http.StatusBadRequest},
		{"wrong method", http.MethodGet, ``, nil, http.StatusMethodNotAllowed},
		{"no llm", http.MethodPost, `{"proposal_text":"x"}`, service.ErrNoTextGenerator, http.StatusServiceUnavailable},
		{"llm failure", http.MethodPost, `{"proposal_text":"x"}`, errors.New("upstream 500"), http.StatusBadGateway},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			a := &fakeAnalyzer{err: tc.err}
			rec := do(newTestServer(a, &fakeDiscoverer{}), tc.method, "/api/reviewers/analyze", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Error == "" {
				t.Errorf("error body = %q", rec.Body.String())
			}
		})
	}
}

func TestDiscoverSSEFromProposalText(t *testing.T) {
	a := &fakeAnalyzer{result: testAnalysis()}
	d := &fakeDiscoverer{}
	h := newTestServer(a, d)

	rec := do(h, http.MethodPost, "/api/reviewers/discover/sse", `{"proposal_text":"We propose base editing.","run_id":"run-42"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if a.calls != 1 || d.got.Proposal.Title != "Base editing in primates" {
		t.Errorf("analysis not passed through: calls=%d got=%+v", a.calls, d.got)
	}

	events := sseEvents(t, rec.Body.String())
	// analysis running, analysis done, 2 discovery events, result
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	if events[0]["current_action"] != "analyzing proposal" {
		t.Errorf("first event = %v", events[0])
	}
	last := events[4]
	if last["status"] != "completed" || last["run_id"] != "run-42" {
		t.Errorf("final event = %v", last)
	}
	result := last["result"].(map[string]interface{})
	if result["run_id"] != "run-42" || len(result["ranked"].([]interface{})) != 1 {
		t.Errorf("result = %v", result)
	}
}

func TestDiscoverSSEWithAnalysis(t *testing.T) {
	a := &fakeAnalyzer{}
	d := &fakeDiscoverer{err: service.ErrNothingToDiscover}
	h := newTestServer(a, d)

	body, _ := json.Marshal(DiscoverRequest{Analysis: testAnalysis(), Exclusions: []string{"Bob Jones"}})
	rec := do(h, http.MethodPost, "/api/reviewers/discover/sse", string(body))
	if a.calls != 0 {
		t.Errorf("analyzer called %d times for a provided analysis", a.calls)
	}

	events := sseEvents(t, rec.Body.String())
	last := events[len(events)-1]
	if last["status"] != "error" || !strings.Contains(last["error"].(string), "no suggested reviewers") {
		t.Errorf("final event = %v", last)
	}
	if last["run_id"] == "" {
		t.Error("run id not generated")
	}
}

func TestDiscoverSSEValidation(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, &fakeDiscoverer{})

	rec := do(h, http.MethodPost, "/api/reviewers/discover/sse", `{"exclusions":["x"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if strings.Contains(rec.Header().Get("Content-Type"), "event-stream") {
		t.Error("stream must not start for invalid requests")
	}
}

func TestDiscoverSync(t *testing.T) {
	d := &fakeDiscoverer{}
	h := newTestServer(&fakeAnalyzer{}, d)

	body, _ := json.Marshal(DiscoverRequest{Analysis: testAnalysis(), RunID: "sync-1"})
	rec := do(h, http.MethodPost, "/api/reviewers/discover", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result model.DiscoveryResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result.RunID != "sync-1" {
		t.Errorf("result = %+v, %v", result, err)
	}

	d.err = service.ErrMissingAnalysis
	rec = do(h, http.MethodPost, "/api/reviewers/discover", string(body))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestMiddleware(t *testing.T) {
	h := newTestServer(&fakeAnalyzer{}, &fakeDiscoverer{})

	rec := do(h, http.MethodOptions, "/api/reviewers/analyze", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}

	rec = do(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("health = %d %q", rec.Code, rec.Body.String())
	}
	do(h, http.MethodGet, "/no/such/path", "")

	n, err := testutil.GatherAndCount(metrics.GetRegistry(), "reviewscout_http_requests_total")
	if err != nil || n == 0 {
		t.Errorf("http request series = %d, %v", n, err)
	}
}
