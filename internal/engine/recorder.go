package engine

import "time"

// 采样结果标签
const (
	FetchOK        = "ok"
	FetchTransient = "transient"
	FetchError     = "error"
)

// Recorder 指标上报接口，由 infrastructure/monitor 实现。
type Recorder interface {
	RecordFetch(result string, seconds float64)
	RecordRetry()
	RecordDispatch(side string, delivered bool)
	RecordReschedule(period time.Duration)
	UpdateSample(long, short float64)
	UpdateThresholds(long, short float64)
	CycleStarted()
	CycleFinished()
}

type nopRecorder struct{}

func (nopRecorder) RecordFetch(string, float64)       {}
func (nopRecorder) RecordRetry()                      {}
func (nopRecorder) RecordDispatch(string, bool)       {}
func (nopRecorder) RecordReschedule(time.Duration)    {}
func (nopRecorder) UpdateSample(float64, float64)     {}
func (nopRecorder) UpdateThresholds(float64, float64) {}
func (nopRecorder) CycleStarted()                     {}
func (nopRecorder) CycleFinished()                    {}
