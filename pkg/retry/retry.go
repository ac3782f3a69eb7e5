// Package retry 提供针对外部 Provider 调用的可复用重试策略。
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"
)

// Policy 描述一次重试策略：最大尝试次数、基础延迟与上限。
// 退避为指数增长并叠加随机抖动，避免多个调用方同步重试。
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy 返回一个保守的默认策略。
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

// transientError 标记一个可以重试的瞬时错误。
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient 将 err 标记为瞬时错误（超时、5xx、限流）。
// 被标记的错误会被 Policy.Do 重试，未标记的错误立即返回。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient 判断 err 是否为可重试的瞬时错误。
// 除显式标记外，网络超时同样视为瞬时。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// Do 执行 fn，对瞬时错误按策略重试，直到成功、耗尽次数或 ctx 取消。
// 返回最后一次的错误。
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}
	return err
}

// backoff 计算第 attempt 次重试前的等待时间（含抖动）。
func (p Policy) backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << uint(attempt-1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	// 抖动：在 [d/2, d] 区间内取随机值
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
