package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidation-alert-go/gateway"
	"liquidation-alert-go/infrastructure/logger"
)

// Fetcher 拉取最新一个清算数据点
type Fetcher interface {
	LatestLiquidation(ctx context.Context) (gateway.LiquidationSample, error)
}

// Dispatcher 投递告警正文；只有确认送达才返回 true。
type Dispatcher interface {
	Dispatch(ctx context.Context, message string) bool
}

// Config 引擎配置
type Config struct {
	Symbol          string
	Thresholds      ThresholdConfig
	Retry           RetryPolicy
	ShutdownTimeout time.Duration // Stop 时等待在途周期的上限
}

// Components 引擎依赖组件
type Components struct {
	Fetcher    Fetcher
	Dispatcher Dispatcher
	Logger     *logger.Logger
	Recorder   Recorder
}

// Engine 采样-判定-告警引擎。
// 每个 tick 在独立 goroutine 中执行一个周期，周期开始时读取的阈值即为本周期使用的阈值。
type Engine struct {
	config     Config
	state      *State
	fetcher    Fetcher
	dispatcher Dispatcher
	logger     *logger.Logger
	recorder   Recorder
	scheduler  *Scheduler

	// 周期的生命周期与进程一致，重新调度不会取消在途的周期与重试
	cycleCtx    context.Context
	cycleCancel context.CancelFunc
	cycles      sync.WaitGroup

	mu        sync.Mutex // 串行化 参数更新+重新调度 以及 启停
	running   bool
	listeners []func(Snapshot)
	lmu       sync.RWMutex

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New 创建引擎
func New(cfg Config, c Components) (*Engine, error) {
	if c.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if c.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	state, err := NewState(cfg.Symbol, cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	c.Logger = c.Logger.WithFields(map[string]interface{}{"component": "engine"})
	if c.Recorder == nil {
		c.Recorder = nopRecorder{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:      cfg,
		state:       state,
		fetcher:     c.Fetcher,
		dispatcher:  c.Dispatcher,
		logger:      c.Logger,
		recorder:    c.Recorder,
		cycleCtx:    ctx,
		cycleCancel: cancel,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	e.scheduler = NewScheduler(e.Tick)
	e.recorder.UpdateThresholds(cfg.Thresholds.LongThreshold, cfg.Thresholds.ShortThreshold)
	return e, nil
}

// State 共享状态
func (e *Engine) State() *State {
	return e.state
}

// Snapshot 当前状态的只读视图
func (e *Engine) Snapshot() Snapshot {
	return e.state.Snapshot()
}

// Scheduler 调度器（只读用途）
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// OnSnapshot 注册状态变化回调（采样更新、告警记忆更新、参数更新）。回调不能阻塞。
func (e *Engine) OnSnapshot(fn func(Snapshot)) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, fn)
}

// Start 立即执行一个周期，然后按当前周期安装定时器
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("engine already started")
	}
	if e.cycleCtx.Err() != nil {
		return fmt.Errorf("engine stopped")
	}

	period := e.state.Config().PollInterval
	e.logger.Info("Liquidation engine starting",
		zap.String("symbol", e.config.Symbol),
		zap.Duration("poll_interval", period),
		zap.Int("max_retries", e.config.Retry.MaxRetries),
		zap.Duration("retry_delay", e.config.Retry.Delay))

	e.Tick()
	if err := e.reschedule(period); err != nil {
		return err
	}
	e.running = true
	return nil
}

// Stop 撤销定时器，取消在途周期并等待其退出（带超时）
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("Liquidation engine stopping...")
	e.scheduler.Stop()
	e.cycleCancel()

	done := make(chan struct{})
	go func() {
		e.cycles.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.config.ShutdownTimeout):
		e.logger.Warn("Timeout waiting for in-flight cycles")
	}
	e.logger.Info("Liquidation engine stopped")
	return nil
}

// Health 定时器必须在运行
func (e *Engine) Health() error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return fmt.Errorf("engine not running")
	}
	if !e.scheduler.Running() {
		return fmt.Errorf("scheduler has no active timer")
	}
	return nil
}

// Tick 启动一个周期但不等待它完成
func (e *Engine) Tick() {
	e.cycles.Add(1)
	go func() {
		defer e.cycles.Done()
		e.RunCycle(e.cycleCtx)
	}()
}

// ApplyParams 合并阈值/周期更新；接受了新的正周期时重新调度。
func (e *Engine) ApplyParams(source string, u ParamUpdate) Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, periodAccepted := e.state.Apply(u)
	e.recorder.UpdateThresholds(cfg.LongThreshold, cfg.ShortThreshold)
	if periodAccepted && e.running {
		if err := e.reschedule(cfg.PollInterval); err != nil {
			e.logger.LogError(err, map[string]interface{}{"action": "reschedule", "source": source})
		}
	}
	if !u.Empty() {
		e.logger.LogParams(source, cfg.LongThreshold, cfg.ShortThreshold, cfg.PollInterval)
	}
	snap := e.state.Snapshot()
	e.publish(snap)
	return snap
}

func (e *Engine) reschedule(period time.Duration) error {
	if err := e.scheduler.Reschedule(period); err != nil {
		return err
	}
	e.recorder.RecordReschedule(period)
	e.logger.LogEvent("rescheduled", map[string]interface{}{"period": period.String()})
	return nil
}

// RunCycle 同步执行一次 采样 -> 判定 -> 告警
func (e *Engine) RunCycle(ctx context.Context) {
	e.recorder.CycleStarted()
	defer e.recorder.CycleFinished()

	// 周期开始时的阈值快照，周期中途的参数变更从下一个 tick 生效
	cfg := e.state.Config()

	sample, attempt, err := e.fetchWithRetry(ctx)
	if err != nil {
		e.logger.LogEvent("fetch_dropped", map[string]interface{}{
			"symbol":    e.config.Symbol,
			"attempt":   attempt,
			"transient": e.config.Retry.isTransient(err),
			"error":     err.Error(),
		})
		return
	}

	current := SampleState{
		Long:      sample.Long,
		Short:     sample.Short,
		SampledAt: e.now(),
		Attempt:   attempt,
	}
	e.state.SetSample(current)
	e.recorder.UpdateSample(sample.Long, sample.Short)
	e.logger.LogSample(e.config.Symbol, sample.Long, sample.Short, attempt)
	e.publish(e.state.Snapshot())

	for _, side := range Sides {
		e.evaluateSide(ctx, side, current.Value(side), cfg.Threshold(side))
	}
}

func (e *Engine) evaluateSide(ctx context.Context, side Side, value, threshold float64) {
	last, has := e.state.Alerts().Last(side)
	if !Evaluate(value, threshold, last, has) {
		return
	}

	delivered := e.dispatcher.Dispatch(ctx, FormatAlert(side, e.config.Symbol, value))
	e.recorder.RecordDispatch(side.String(), delivered)
	e.logger.LogAlert(e.config.Symbol, side.String(), value, delivered)
	if !delivered {
		// 记忆不变，同一个值下个 tick 仍会再次尝试
		return
	}
	e.state.MarkAlerted(side, value)
	e.publish(e.state.Snapshot())
}

func (e *Engine) publish(snap Snapshot) {
	e.lmu.RLock()
	defer e.lmu.RUnlock()
	for _, fn := range e.listeners {
		fn(snap)
	}
}
