package engine

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidPeriod 轮询周期必须为正。
var ErrInvalidPeriod = errors.New("poll interval must be > 0")

// Side 清算方向
type Side int

const (
	// SideLong 多头爆仓
	SideLong Side = iota
	// SideShort 空头爆仓
	SideShort
)

// String 返回方向名称
func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Sides 固定的评估顺序
var Sides = [...]Side{SideLong, SideShort}

// ThresholdConfig 阈值与轮询周期。阈值可以是任意实数（<=0 等价于总是触发）。
type ThresholdConfig struct {
	LongThreshold  float64
	ShortThreshold float64
	PollInterval   time.Duration
}

// Threshold 返回对应方向的阈值
func (c ThresholdConfig) Threshold(side Side) float64 {
	if side == SideShort {
		return c.ShortThreshold
	}
	return c.LongThreshold
}

// SampleState 最近一次成功采样；采样失败时保持旧值。
type SampleState struct {
	Long      float64
	Short     float64
	SampledAt time.Time
	Attempt   int
}

// Value 返回对应方向的采样值
func (s SampleState) Value(side Side) float64 {
	if side == SideShort {
		return s.Short
	}
	return s.Long
}

// AlertMemory 每个方向最后一次成功送达的告警值。
type AlertMemory struct {
	Long     float64
	Short    float64
	HasLong  bool
	HasShort bool
}

// Last 返回对应方向的记忆值以及是否存在
func (m AlertMemory) Last(side Side) (float64, bool) {
	if side == SideShort {
		return m.Short, m.HasShort
	}
	return m.Long, m.HasLong
}

// ParamUpdate 运行时参数更新；nil 字段表示不变。
type ParamUpdate struct {
	LongThreshold  *float64
	ShortThreshold *float64
	PollInterval   *time.Duration
}

// Empty 是否没有任何字段
func (u ParamUpdate) Empty() bool {
	return u.LongThreshold == nil && u.ShortThreshold == nil && u.PollInterval == nil
}

// Snapshot 供控制面/推送使用的只读视图
type Snapshot struct {
	Symbol           string    `json:"symbol"`
	LongThreshold    float64   `json:"longThreshold"`
	ShortThreshold   float64   `json:"shortThreshold"`
	PollIntervalSec  float64   `json:"pollIntervalSec"`
	LastLongValue    float64   `json:"lastLongValue"`
	LastShortValue   float64   `json:"lastShortValue"`
	SampledAt        time.Time `json:"sampledAt"`
	HasSample        bool      `json:"hasSample"`
	LastLongAlerted  *float64  `json:"lastLongAlerted"`
	LastShortAlerted *float64  `json:"lastShortAlerted"`
}

// State 进程内唯一的可变状态：阈值配置、最新采样、告警记忆。
// 每个读-改-写都在一次加锁内完成。
type State struct {
	symbol string

	mu     sync.RWMutex
	config ThresholdConfig
	sample SampleState
	alerts AlertMemory
}

// NewState 创建状态对象
func NewState(symbol string, cfg ThresholdConfig) (*State, error) {
	if cfg.PollInterval <= 0 {
		return nil, ErrInvalidPeriod
	}
	return &State{symbol: symbol, config: cfg}, nil
}

// Symbol 监控的币种
func (s *State) Symbol() string {
	return s.symbol
}

// Config 当前阈值配置的副本
func (s *State) Config() ThresholdConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Apply 合并参数更新；非正的周期被忽略。
// 返回更新后的配置以及周期是否被接受。
func (s *State) Apply(u ParamUpdate) (ThresholdConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.LongThreshold != nil {
		s.config.LongThreshold = *u.LongThreshold
	}
	if u.ShortThreshold != nil {
		s.config.ShortThreshold = *u.ShortThreshold
	}
	periodAccepted := false
	if u.PollInterval != nil && *u.PollInterval > 0 {
		s.config.PollInterval = *u.PollInterval
		periodAccepted = true
	}
	return s.config, periodAccepted
}

// SetSample 整体覆盖最新采样
func (s *State) SetSample(sample SampleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample = sample
}

// Sample 最新采样的副本
func (s *State) Sample() SampleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

// Alerts 告警记忆的副本
func (s *State) Alerts() AlertMemory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alerts
}

// MarkAlerted 仅在投递成功后调用
func (s *State) MarkAlerted(side Side, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch side {
	case SideLong:
		s.alerts.Long, s.alerts.HasLong = value, true
	case SideShort:
		s.alerts.Short, s.alerts.HasShort = value, true
	}
}

// Snapshot 一致性快照
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Symbol:          s.symbol,
		LongThreshold:   s.config.LongThreshold,
		ShortThreshold:  s.config.ShortThreshold,
		PollIntervalSec: s.config.PollInterval.Seconds(),
		LastLongValue:   s.sample.Long,
		LastShortValue:  s.sample.Short,
		SampledAt:       s.sample.SampledAt,
		HasSample:       !s.sample.SampledAt.IsZero(),
	}
	if s.alerts.HasLong {
		v := s.alerts.Long
		snap.LastLongAlerted = &v
	}
	if s.alerts.HasShort {
		v := s.alerts.Short
		snap.LastShortAlerted = &v
	}
	return snap
}
