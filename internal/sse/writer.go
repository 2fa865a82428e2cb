package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"reviewscout/internal/model"
)

// DefaultHeartbeat 默认心跳间隔
const DefaultHeartbeat = 15 * time.Second

// DiscoveryWriter 发现流程的SSE写入器
// 每条消息都是完整的DiscoveryState
type DiscoveryWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	mu        sync.Mutex
	state     *model.DiscoveryState
	stopHeart chan struct{}
	stopOnce  sync.Once
	stopped   bool
}

// NewDiscoveryWriter 创建SSE写入器并启动心跳，interval<=0时使用DefaultHeartbeat
func NewDiscoveryWriter(w http.ResponseWriter, interval time.Duration) (*DiscoveryWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	if interval <= 0 {
		interval = DefaultHeartbeat
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	writer := &DiscoveryWriter{
		w:         w,
		flusher:   flusher,
		state:     model.NewDiscoveryState(),
		stopHeart: make(chan struct{}),
	}

	go writer.heartbeat(interval)

	return writer, nil
}

// heartbeat 定期发送心跳保持连接
func (s *DiscoveryWriter) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.stopped {
				s.mu.Unlock()
				return
			}
			heartbeat := map[string]interface{}{
				"status":         "heartbeat",
				"run_id":         s.state.RunID,
				"overall":        s.state.Overall,
				"current_action": s.state.CurrentAction,
			}
			data, _ := json.Marshal(heartbeat)
			fmt.Fprintf(s.w, "data: %s\n\n", data)
			s.flusher.Flush()
			s.mu.Unlock()
		case <-s.stopHeart:
			return
		}
	}
}

// StopHeartbeat 停止心跳，可重复调用
func (s *DiscoveryWriter) StopHeartbeat() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stopHeart)
	})
}

func (s *DiscoveryWriter) send() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// SetRunID 设置运行ID（不发送）
func (s *DiscoveryWriter) SetRunID(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RunID = runID
}

// Progress 更新阶段状态并发送
// 进度只增不减
func (s *DiscoveryWriter) Progress(ev model.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Stages.Set(ev.Stage, &model.StageState{
		Status:  ev.Status,
		Message: ev.Message,
		Data:    ev.Data,
	})
	if ev.Message != "" {
		s.state.CurrentAction = ev.Message
	}
	s.recalcOverall()
	return s.send()
}

// Result 发送最终结果
func (s *DiscoveryWriter) Result(result *model.DiscoveryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Status = "completed"
	s.state.Overall = 100
	s.state.CurrentAction = "Discovery completed"
	s.state.Result = result
	if result != nil && result.RunID != "" {
		s.state.RunID = result.RunID
	}
	return s.send()
}

// SendGlobalError 发送全局错误
func (s *DiscoveryWriter) SendGlobalError(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Status = "error"
	s.state.CurrentAction = "Discovery failed"
	s.state.Error = errMsg
	return s.send()
}

// recalcOverall 根据结束的阶段数量计算进度（只增不减），完成前最多99
func (s *DiscoveryWriter) recalcOverall() {
	overall := s.state.Stages.CountFinished() * 100 / len(model.AllStages)
	if overall > 99 {
		overall = 99
	}
	if overall > s.state.Overall {
		s.state.Overall = overall
	}
}
