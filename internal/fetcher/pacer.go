package fetcher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reviewscout/internal/model"
)

// Pacer 每个检索源一个闸门：同一检索源的调用串行执行，且相邻两次调用至少间隔interval
// 作用域是一次发现运行，由调用方创建并注入
type Pacer struct {
	interval time.Duration
	mu       sync.Mutex
	gates    map[model.Index]*gate
}

type gate struct {
	slot    chan struct{}
	limiter *rate.Limiter
}

// NewPacer 创建Pacer，interval<=0表示不限速（仍然串行）
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		interval: interval,
		gates:    make(map[model.Index]*gate),
	}
}

func (p *Pacer) gate(index model.Index) *gate {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, ok := p.gates[index]
	if !ok {
		limit := rate.Inf
		if p.interval > 0 {
			limit = rate.Every(p.interval)
		}
		g = &gate{
			slot:    make(chan struct{}, 1),
			limiter: rate.NewLimiter(limit, 1),
		}
		p.gates[index] = g
	}
	return g
}

// Do 在检索源闸门内执行fn
// 等待阶段响应ctx取消；fn一旦开始就执行完
// fn拿到的ctx携带本检索源的限速器，一次检索内的后续HTTP请求用Pace排队
func (p *Pacer) Do(ctx context.Context, index model.Index, fn func(ctx context.Context) error) error {
	g := p.gate(index)

	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.slot }()

	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return fn(context.WithValue(ctx, paceKey{}, g.limiter))
}

type paceKey struct{}

// Pace 一次检索需要多个HTTP请求时，在第一个之后的每个请求前调用
// ctx不是Pacer.Do给出的时直接返回
func Pace(ctx context.Context) error {
	limiter, ok := ctx.Value(paceKey{}).(*rate.Limiter)
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
