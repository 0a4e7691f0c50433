package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler 持有唯一的周期定时器。tick 回调必须立即返回（周期按墙钟推进，不等待任务完成）。
type Scheduler struct {
	tick func()

	mu     sync.Mutex
	period time.Duration
	stop   chan struct{}
	done   chan struct{}

	active      atomic.Int32
	reschedules atomic.Int64
}

// NewScheduler 创建调度器，尚未启动任何定时器。
func NewScheduler(tick func()) *Scheduler {
	return &Scheduler{tick: tick}
}

// Reschedule 先撤销当前定时器（等待其循环退出），再按新周期安装。
// 重复调用是安全的，结束后始终只有一个定时器在运行。
func (s *Scheduler) Reschedule(period time.Duration) error {
	if period <= 0 {
		return ErrInvalidPeriod
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked()

	stop := make(chan struct{})
	done := make(chan struct{})
	ticker := time.NewTicker(period)
	s.period = period
	s.stop = stop
	s.done = done
	s.active.Add(1)
	s.reschedules.Add(1)
	go s.loop(ticker, stop, done)
	return nil
}

// Stop 撤销定时器；已触发的任务不受影响。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Period 当前定时器的周期，未运行时为 0
func (s *Scheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Running 是否有定时器在运行
func (s *Scheduler) Running() bool {
	return s.active.Load() > 0
}

// ActiveTimers 正在运行的定时器循环数量，正常情况下只会是 0 或 1。
func (s *Scheduler) ActiveTimers() int {
	return int(s.active.Load())
}

// Reschedules 累计安装定时器的次数
func (s *Scheduler) Reschedules() int64 {
	return s.reschedules.Load()
}

func (s *Scheduler) cancelLocked() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
	s.period = 0
}

func (s *Scheduler) loop(ticker *time.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer s.active.Add(-1)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}
