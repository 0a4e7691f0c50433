package config

import "math"

// ValidateParams 验证运行时可调的监控参数。
func ValidateParams(m MonitorConfig) error {
	if !finite(m.LongThreshold) || !finite(m.ShortThreshold) {
		return ErrInvalid("monitor thresholds must be finite numbers")
	}
	if !finite(m.PollIntervalSec) || m.PollIntervalSec <= 0 {
		return ErrInvalid("monitor.pollIntervalSec must be > 0")
	}
	// 过小会截断成 0ns，过大会溢出
	if m.PollInterval() <= 0 {
		return ErrInvalid("monitor.pollIntervalSec out of range")
	}
	return nil
}

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
