package handler

import "reviewscout/internal/model"

// AnalyzeRequest 提案分析请求
type AnalyzeRequest struct {
	ProposalText string   `json:"proposal_text"`
	Notes        string   `json:"notes,omitempty"`      // 项目官员补充说明
	Exclusions   []string `json:"exclusions,omitempty"` // 不希望被推荐的人
}

// DiscoverRequest 发现请求
// 提供analysis时跳过分析阶段，否则先对proposal_text做分析
type DiscoverRequest struct {
	ProposalText string                `json:"proposal_text,omitempty"`
	Notes        string                `json:"notes,omitempty"`
	Analysis     *model.AnalysisResult `json:"analysis,omitempty"`
	Exclusions   []string              `json:"exclusions,omitempty"`
	RunID        string                `json:"run_id,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
}
