// Package rate 为远端服务（名称解析、PSF 网格下载）提供按分组的请求速率闸门。
package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spikepsf/pkg/contract"
)

// LimitKey: 限流分组键（通常为 服务:主机）。
type LimitKey string

// Limits: 每分组的限额。RPM=0 表示不限。
type Limits struct {
	RPM int // requests per minute
	// Burst: 桶容量；0 时等于 RPM。
	Burst int
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到拿到 n 个请求额度或 ctx 取消。
	Wait(ctx context.Context, key LimitKey, n int) error
	// Try: 非阻塞尝试。
	Try(key LimitKey, n int) bool
}

// NewGate 从静态配置构造闸门；clk 为空则使用 time.Now。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*bucket, len(m))}
	now := clk()
	for k, lim := range m {
		g.m[k] = newBucket(lim, now)
	}
	return g
}

type gate struct {
	mu  sync.Mutex
	clk func() time.Time
	m   map[LimitKey]*bucket
}

type bucket struct {
	mu    sync.Mutex
	cap   int
	level float64
	rate  float64 // 每秒补充
	last  time.Time
}

func newBucket(lim Limits, now time.Time) *bucket {
	if lim.RPM <= 0 {
		return &bucket{}
	}
	c := lim.Burst
	if c <= 0 {
		c = lim.RPM
	}
	return &bucket{cap: c, level: float64(c), rate: float64(lim.RPM) / 60.0, last: now}
}

func (b *bucket) enabled() bool { return b.cap > 0 }

func (b *bucket) refill(now time.Time) {
	// 时钟回拨视为无时间流逝
	if !b.enabled() || !now.After(b.last) {
		return
	}
	b.level = min(float64(b.cap), b.level+now.Sub(b.last).Seconds()*b.rate)
	b.last = now
}

// wait 返回拿到 n 个额度还需等待的时长；0 表示已扣减。
func (b *bucket) wait(now time.Time, n int) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled() {
		return 0
	}
	b.refill(now)
	if b.level >= float64(n) {
		b.level -= float64(n)
		return 0
	}
	return time.Duration((float64(n) - b.level) / b.rate * float64(time.Second))
}

func (g *gate) get(key LimitKey) *bucket {
	g.mu.Lock()
	defer g.mu.Unlock()
	b := g.m[key]
	if b == nil {
		// 未配置的 key 不限额
		b = &bucket{}
		g.m[key] = b
	}
	return b
}

func (g *gate) check(key LimitKey, n int) (*bucket, error) {
	b := g.get(key)
	if n <= 0 || (b.enabled() && n > b.cap) {
		return nil, fmt.Errorf("%w: rate: ask %d from %q", contract.ErrInvalidInput, n, key)
	}
	return b, nil
}

func (g *gate) Try(key LimitKey, n int) bool {
	b, err := g.check(key, n)
	if err != nil {
		return false
	}
	return b.wait(g.clk(), n) == 0
}

func (g *gate) Wait(ctx context.Context, key LimitKey, n int) error {
	b, err := g.check(key, n)
	if err != nil {
		return err
	}
	const minSleep = 10 * time.Millisecond
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		d := b.wait(g.clk(), n)
		if d == 0 {
			return nil
		}
		if err := sleepCtx(ctx, max(d, minSleep)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Available 返回当前可用请求数（向下取整，仅诊断）；不限额时为 -1。
func Available(g Gate, key LimitKey) int {
	gg, ok := g.(*gate)
	if !ok {
		return -1
	}
	b := gg.get(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled() {
		return -1
	}
	b.refill(gg.clk())
	return int(b.level)
}

var _ Gate = (*gate)(nil)
