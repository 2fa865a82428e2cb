package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewscout/internal/model"
	"reviewscout/internal/service"
	"reviewscout/internal/sse"
	"reviewscout/pkg/logger"
)

const maxRequestBytes = 1 << 20

// ProposalAnalyzer 提案分析
type ProposalAnalyzer interface {
	Analyze(ctx context.Context, req service.AnalysisRequest) (*model.AnalysisResult, error)
}

// ReviewerDiscoverer 审稿人发现
type ReviewerDiscoverer interface {
	Discover(ctx context.Context, req service.DiscoveryRequest, progress chan<- model.ProgressEvent) (*model.DiscoveryResult, error)
}

// ReviewerHandler 审稿人推荐HTTP处理器
type ReviewerHandler struct {
	analyzer  ProposalAnalyzer
	discovery ReviewerDiscoverer
	heartbeat time.Duration
	log       logger.Logger
}

// NewReviewerHandler 创建处理器
func NewReviewerHandler(analyzer ProposalAnalyzer, discovery ReviewerDiscoverer) *ReviewerHandler {
	return &ReviewerHandler{
		analyzer:  analyzer,
		discovery: discovery,
		heartbeat: sse.DefaultHeartbeat,
		log:       logger.Named("handler"),
	}
}

const (
	pathHealth      = "/health"
	pathAnalyze     = "/api/reviewers/analyze"
	pathDiscover    = "/api/reviewers/discover"
	pathDiscoverSSE = "/api/reviewers/discover/sse"
	pathMetrics     = "/metrics"
)

var knownEndpoints = map[string]bool{
	pathHealth: true, pathAnalyze: true, pathDiscover: true, pathDiscoverSSE: true, pathMetrics: true,
}

// Register 注册路由
func (h *ReviewerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc(pathHealth, h.Health)
	mux.HandleFunc(pathAnalyze, h.Analyze)
	mux.HandleFunc(pathDiscover, h.Discover)
	mux.HandleFunc(pathDiscoverSSE, h.DiscoverSSE)
}

// Analyze 分析提案
// POST /api/reviewers/analyze
// Body: {"proposal_text": "...", "notes": "...", "exclusions": ["..."]}
func (h *ReviewerHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req AnalyzeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.analyzer.Analyze(r.Context(), service.AnalysisRequest{
		ProposalText: req.ProposalText,
		Notes:        req.Notes,
		Exclusions:   req.Exclusions,
	})
	if err != nil {
		h.log.Warn(r.Context(), "analysis failed", logger.Error(err))
		writeError(w, analysisStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Discover 同步执行发现，返回完整结果
// POST /api/reviewers/discover
func (h *ReviewerHandler) Discover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := h.decodeDiscover(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	analysis := req.Analysis
	if analysis == nil {
		var err error
		analysis, err = h.analyzer.Analyze(ctx, service.AnalysisRequest{
			ProposalText: req.ProposalText,
			Notes:        req.Notes,
			Exclusions:   req.Exclusions,
		})
		if err != nil {
			writeError(w, analysisStatus(err), err.Error())
			return
		}
	}

	result, err := h.discovery.Discover(ctx, service.DiscoveryRequest{
		Analysis:   analysis,
		Exclusions: req.Exclusions,
		RunID:      req.RunID,
	}, nil)
	if err != nil {
		writeError(w, discoveryStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DiscoverSSE 以SSE流式返回发现进度和最终结果
// POST /api/reviewers/discover/sse
func (h *ReviewerHandler) DiscoverSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := h.decodeDiscover(w, r)
	if !ok {
		return
	}

	writer, err := sse.NewDiscoveryWriter(w, h.heartbeat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	defer writer.StopHeartbeat()

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	writer.SetRunID(runID)
	ctx := logger.WithRunID(r.Context(), runID)
	h.log.Info(ctx, "Starting SSE discovery")

	analysis := req.Analysis
	if analysis == nil {
		writer.Progress(stageEvent(model.StageAnalysis, model.StatusRunning, "analyzing proposal", nil))
		analysis, err = h.analyzer.Analyze(ctx, service.AnalysisRequest{
			ProposalText: req.ProposalText,
			Notes:        req.Notes,
			Exclusions:   req.Exclusions,
		})
		if err != nil {
			h.log.Warn(ctx, "analysis failed", logger.Error(err))
			writer.Progress(stageEvent(model.StageAnalysis, model.StatusError, err.Error(), nil))
			writer.SendGlobalError(err.Error())
			return
		}
		writer.Progress(stageEvent(model.StageAnalysis, model.StatusDone, "proposal analyzed", analysis))
	} else {
		writer.Progress(stageEvent(model.StageAnalysis, model.StatusDone, "analysis provided", nil))
	}

	progress := make(chan model.ProgressEvent, 64)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for ev := range progress {
			writer.Progress(ev)
		}
	}()

	result, err := h.discovery.Discover(ctx, service.DiscoveryRequest{
		Analysis:   analysis,
		Exclusions: req.Exclusions,
		RunID:      runID,
	}, progress)
	close(progress)
	<-pumped

	if err != nil {
		h.log.Warn(ctx, "discovery failed", logger.Error(err))
		writer.SendGlobalError(err.Error())
		return
	}
	writer.Result(result)
	h.log.Info(ctx, "SSE discovery completed",
		logger.Int("ranked", len(result.Ranked)),
		logger.Int("degraded", len(result.Degraded)))
}

// Health 健康检查
func (h *ReviewerHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *ReviewerHandler) decodeDiscover(w http.ResponseWriter, r *http.Request) (DiscoverRequest, bool) {
	var req DiscoverRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Analysis == nil && strings.TrimSpace(req.ProposalText) == "" {
		writeError(w, http.StatusBadRequest, "analysis or proposal_text is required")
		return req, false
	}
	return req, true
}

func stageEvent(stage model.StageType, status model.StageStatus, message string, data interface{}) model.ProgressEvent {
	return model.ProgressEvent{
		Stage:   stage,
		Status:  status,
		Message: message,
		Data:    data,
		Time:    time.Now().UnixMilli(),
	}
}

func analysisStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyProposal):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNoTextGenerator):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func discoveryStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrMissingAnalysis), errors.Is(err, service.ErrNothingToDiscover):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
