package engine

// Evaluate 边沿触发判定：超过阈值，且与上次成功告警的值不同（或从未告警）。
// 唯一的去重键是“值完全相等”，仍在阈值之上的任何变化（包括回落）都会再次触发。
func Evaluate(value, threshold, lastAlerted float64, hasLast bool) bool {
	if !(value > threshold) {
		return false
	}
	return !hasLast || value != lastAlerted
}
