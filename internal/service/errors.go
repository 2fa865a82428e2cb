package service

import "errors"

var (
	// ErrMissingAnalysis 没有分析结果（调用方输入错误）
	ErrMissingAnalysis = errors.New("analysis result is required")
	// ErrNothingToDiscover 既没有推荐审稿人也没有检索主题
	ErrNothingToDiscover = errors.New("analysis has no suggested reviewers and no search queries")
	// ErrEmptyProposal 提案文本为空
	ErrEmptyProposal = errors.New("proposal text is empty")
	// ErrNoTextGenerator 没有配置LLM
	ErrNoTextGenerator = errors.New("no text generator configured")
)
