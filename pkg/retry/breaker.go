package retry

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen 表示熔断器处于打开状态，调用被快速拒绝。
var ErrBreakerOpen = errors.New("circuit breaker is open")

// Breaker 是一个简单的客户端级熔断器：连续失败达到阈值后打开，
// 冷却时间过后放行一次探测调用。
type Breaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
}

// NewBreaker 创建一个熔断器。threshold 为连续失败阈值，cooldown 为冷却时间。
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow 判断当前调用是否放行。
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return true
	}
	// 打开状态：冷却结束后放行探测，并重置计数到阈值-1，
	// 探测失败会立即再次打开。
	if time.Since(b.openedAt) >= b.cooldown {
		b.failures = b.threshold - 1
		return true
	}
	return false
}

// Record 记录一次调用结果。
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures == b.threshold {
		b.openedAt = time.Now()
	}
}
