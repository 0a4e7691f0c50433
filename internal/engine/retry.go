package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"liquidation-alert-go/gateway"
)

// RetryPolicy 采样失败的重试策略：仅对瞬时网络故障重试，最多 MaxRetries 次，每次间隔 Delay。
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	// Transient 判定函数，默认 gateway.IsTransient
	Transient func(error) bool
}

// DefaultRetryPolicy 3 次重试，间隔 5 秒
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, Delay: 5 * time.Second}
}

func (p RetryPolicy) isTransient(err error) bool {
	if p.Transient != nil {
		return p.Transient(err)
	}
	return gateway.IsTransient(err)
}

// fetchWithRetry 返回样本以及成功（或最终失败）时的尝试序号，首次为 0。
// 重试在周期自己的 goroutine 里进行，不受重新调度影响。
func (e *Engine) fetchWithRetry(ctx context.Context) (gateway.LiquidationSample, int, error) {
	policy := e.config.Retry
	for attempt := 0; ; attempt++ {
		start := time.Now()
		sample, err := e.fetcher.LatestLiquidation(ctx)
		elapsed := time.Since(start).Seconds()
		if err == nil {
			e.recorder.RecordFetch(FetchOK, elapsed)
			return sample, attempt, nil
		}

		transient := policy.isTransient(err)
		if !transient {
			e.recorder.RecordFetch(FetchError, elapsed)
			return sample, attempt, err
		}
		e.recorder.RecordFetch(FetchTransient, elapsed)
		if attempt >= policy.MaxRetries {
			return sample, attempt, err
		}

		e.recorder.RecordRetry()
		e.logger.Warn("Transient fetch failure, retrying",
			zap.String("symbol", e.config.Symbol),
			zap.Int("attempt", attempt),
			zap.Int("next_attempt", attempt+1),
			zap.Duration("delay", policy.Delay),
			zap.Error(err))
		if err := e.sleep(ctx, policy.Delay); err != nil {
			return sample, attempt, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
