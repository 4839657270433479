package timer

import (
	"sync"
	"time"
)

// Debounce 返回防抖函数：连续调用时只在最后一次调用 wait 之后执行一次
func Debounce(wait time.Duration, fn func()) func() {
	var (
		mu sync.Mutex
		t  *time.Timer
	)
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if t != nil {
			t.Stop()
		}
		t = time.AfterFunc(wait, fn)
	}
}

// Throttle 返回节流函数：每个 interval 内最多执行一次，多余的调用被丢弃
func Throttle(interval time.Duration, fn func()) func() {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() {
		mu.Lock()
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < interval {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()
		fn()
	}
}

// Retry 最多尝试 attempts 次，每次失败后等待 delay，返回最后一次的错误
func Retry(attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// ExponentialBackoff 与 Retry 相同，但每次失败后等待时间翻倍
func ExponentialBackoff(attempts int, base time.Duration, fn func() error) error {
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
