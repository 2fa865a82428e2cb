package model

import (
	"encoding/json"
	"sync"
)

// StageType 发现流程的阶段
type StageType string

const (
	StageAnalysis     StageType = "analysis"
	StageVerification StageType = "verification"
	StageDiscovery    StageType = "discovery"
	StageAffiliation  StageType = "affiliation"
	StageCOI          StageType = "coi"
	StageReasoning    StageType = "reasoning"
	StageRanking      StageType = "ranking"
)

// AllStages 所有阶段（按执行顺序）
var AllStages = []StageType{
	StageAnalysis, StageVerification, StageDiscovery,
	StageAffiliation, StageCOI, StageReasoning, StageRanking,
}

// StageStatus 阶段状态
type StageStatus string

const (
	StatusPending StageStatus = "pending"
	StatusRunning StageStatus = "running"
	StatusDone    StageStatus = "done"
	StatusError   StageStatus = "error"
	StatusSkipped StageStatus = "skipped"
)

// StageState 单个阶段的状态
type StageState struct {
	Status  StageStatus `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// StageMap 并发安全的阶段状态map
type StageMap struct {
	m sync.Map
}

// NewStageMap 创建StageMap，所有阶段初始为pending
func NewStageMap() *StageMap {
	s := &StageMap{}
	for _, stage := range AllStages {
		s.Set(stage, &StageState{Status: StatusPending})
	}
	return s
}

// Set 设置阶段状态
func (s *StageMap) Set(stage StageType, state *StageState) {
	s.m.Store(stage, state)
}

// Get 获取阶段状态
func (s *StageMap) Get(stage StageType) *StageState {
	v, ok := s.m.Load(stage)
	if !ok {
		return nil
	}
	return v.(*StageState)
}

// CountFinished 统计已结束（完成、失败或跳过）的阶段数量
func (s *StageMap) CountFinished() int {
	count := 0
	s.m.Range(func(_, v interface{}) bool {
		switch v.(*StageState).Status {
		case StatusDone, StatusError, StatusSkipped:
			count++
		}
		return true
	})
	return count
}

// MarshalJSON 实现json序列化
func (s *StageMap) MarshalJSON() ([]byte, error) {
	m := make(map[StageType]*StageState)
	s.m.Range(func(k, v interface{}) bool {
		m[k.(StageType)] = v.(*StageState)
		return true
	})
	return json.Marshal(m)
}

// DiscoveryState SSE每次输出的完整状态
type DiscoveryState struct {
	Status        string           `json:"status"` // "running" | "completed" | "error"
	RunID         string           `json:"run_id,omitempty"`
	Overall       int              `json:"overall"`        // 整体进度 0-100
	CurrentAction string           `json:"current_action"` // 当前在做什么
	Stages        *StageMap        `json:"stages"`
	Result        *DiscoveryResult `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// NewDiscoveryState 创建初始状态
func NewDiscoveryState() *DiscoveryState {
	return &DiscoveryState{
		Status:        "running",
		CurrentAction: "Initializing...",
		Stages:        NewStageMap(),
	}
}

// ProgressEvent 编排器发出的进度事件
type ProgressEvent struct {
	Stage   StageType   `json:"stage"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Time    int64       `json:"time"` // unix millis
}
