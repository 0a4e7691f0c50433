package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidation-alert-go/gateway"
)

// fetchResult 一次脚本化的采样结果
type fetchResult struct {
	long, short float64
	err         error
}

// scriptedFetcher 依次返回预设结果，用完后重复最后一个
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
	block   chan struct{} // 非 nil 时每次调用先等待
	entered chan struct{}
}

func (f *scriptedFetcher) LatestLiquidation(ctx context.Context) (gateway.LiquidationSample, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	r := f.results[idx]
	if r.err != nil {
		return gateway.LiquidationSample{}, r.err
	}
	return gateway.LiquidationSample{Long: r.long, Short: r.short}, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingDispatcher 记录所有消息；fail 为 true 时投递失败
type recordingDispatcher struct {
	mu       sync.Mutex
	messages []string
	fail     bool
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	return !d.fail
}

func (d *recordingDispatcher) SetFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}

func (d *recordingDispatcher) Messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.messages...)
}

func (d *recordingDispatcher) count(side Side) int {
	n := 0
	for _, m := range d.Messages() {
		if strings.Contains(m, side.String()+" liquidation") {
			n++
		}
	}
	return n
}

func okSample(long, short float64) fetchResult { return fetchResult{long: long, short: short} }

var errReset = syscall.ECONNRESET

func newTestEngine(t *testing.T, f Fetcher, d Dispatcher, thresholds ThresholdConfig) (*Engine, *[]time.Duration) {
	t.Helper()
	e, err := New(Config{
		Symbol:     "BTC",
		Thresholds: thresholds,
		Retry:      DefaultRetryPolicy(),
	}, Components{Fetcher: f, Dispatcher: d})
	require.NoError(t, err)

	var mu sync.Mutex
	sleeps := &[]time.Duration{}
	e.sleep = func(ctx context.Context, dur time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*sleeps = append(*sleeps, dur)
		return ctx.Err()
	}
	return e, sleeps
}

func thresholds(long, short float64) ThresholdConfig {
	return ThresholdConfig{LongThreshold: long, ShortThreshold: short, PollInterval: time.Minute}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Thresholds: thresholds(1, 1)}, Components{Dispatcher: &recordingDispatcher{}})
	assert.Error(t, err)

	_, err = New(Config{Thresholds: ThresholdConfig{}}, Components{
		Fetcher:    &scriptedFetcher{results: []fetchResult{okSample(0, 0)}},
		Dispatcher: &recordingDispatcher{},
	})
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestFirstCrossingDispatchesOnce(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(10, 1)}}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())

	assert.Equal(t, 1, d.count(SideLong))
	assert.Equal(t, 0, d.count(SideShort))
	last, has := e.State().Alerts().Last(SideLong)
	assert.True(t, has)
	assert.Equal(t, 10.0, last)
}

func TestSteadyValueDoesNotRealert(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(10, 0), okSample(10, 0)}}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())
	e.RunCycle(context.Background())

	assert.Equal(t, 1, d.count(SideLong))
}

func TestChangedValueAboveThresholdRealerts(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(10, 0), okSample(9, 0), okSample(12, 0)}}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	for i := 0; i < 3; i++ {
		e.RunCycle(context.Background())
	}

	assert.Equal(t, 3, d.count(SideLong))
}

func TestDispatchFailureKeepsMemoryAndRetriesNextTick(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(10, 0), okSample(10, 0), okSample(10, 0)}}
	d := &recordingDispatcher{fail: true}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())
	_, has := e.State().Alerts().Last(SideLong)
	assert.False(t, has, "memory must stay absent after failed dispatch")

	d.SetFail(false)
	e.RunCycle(context.Background())
	e.RunCycle(context.Background())

	// 失败一次 + 成功一次，第三个周期值未变不再发送
	assert.Equal(t, 2, d.count(SideLong))
	last, has := e.State().Alerts().Last(SideLong)
	assert.True(t, has)
	assert.Equal(t, 10.0, last)
}

func TestSidesAreIndependent(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(10, 20), okSample(10, 21)}}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())
	e.RunCycle(context.Background())

	assert.Equal(t, 1, d.count(SideLong))
	assert.Equal(t, 2, d.count(SideShort))
}

func TestRetryBound(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{
		{err: errReset}, {err: errReset}, {err: errReset}, {err: errReset},
		okSample(100, 100),
	}}
	d := &recordingDispatcher{}
	e, sleeps := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())

	// 首次 + 3 次重试，第 4 次失败后放弃
	assert.Equal(t, 4, f.Calls())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, *sleeps)
	assert.Empty(t, d.Messages())
	assert.False(t, e.State().Snapshot().HasSample)
}

func TestRetrySucceedsAndOverwritesSample(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: context.DeadlineExceeded}, okSample(7, 8)}}
	d := &recordingDispatcher{}
	e, sleeps := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())

	assert.Len(t, *sleeps, 1)
	sample := e.State().Sample()
	assert.Equal(t, 7.0, sample.Long)
	assert.Equal(t, 8.0, sample.Short)
	assert.Equal(t, 1, sample.Attempt)
	assert.Equal(t, 1, d.count(SideLong))
	assert.Equal(t, 1, d.count(SideShort))
}

func TestNonTransientFailureNoRetryAndStaleSample(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(3, 4), {err: gateway.ErrUnexpectedStatus}}}
	d := &recordingDispatcher{}
	e, sleeps := newTestEngine(t, f, d, thresholds(5, 5))

	e.RunCycle(context.Background())
	before := e.State().Sample()
	e.RunCycle(context.Background())

	assert.Equal(t, 2, f.Calls())
	assert.Empty(t, *sleeps)
	assert.Equal(t, before, e.State().Sample())
}

func TestCycleUsesThresholdsReadAtStart(t *testing.T) {
	f := &scriptedFetcher{
		results: []fetchResult{okSample(10, 0)},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	done := make(chan struct{})
	go func() {
		e.RunCycle(context.Background())
		close(done)
	}()
	<-f.entered
	higher := 100.0
	e.ApplyParams("test", ParamUpdate{LongThreshold: &higher})
	close(f.block)
	<-done

	assert.Equal(t, 1, d.count(SideLong), "in-flight cycle keeps the threshold it started with")
	assert.Equal(t, 100.0, e.State().Config().LongThreshold)
}

func TestEndToEndScenario(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(6_000_000, 0), okSample(6_000_000, 0), okSample(7_250_000, 0)}}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5_000_000, 5_000_000))

	e.RunCycle(context.Background())
	msgs := d.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "LONG")
	assert.Contains(t, msgs[0], "6,000,000.00")
	assert.Contains(t, msgs[0], "6.0M")

	e.RunCycle(context.Background())
	require.Len(t, d.Messages(), 1)

	e.RunCycle(context.Background())
	msgs = d.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1], "7,250,000.00")
	assert.Contains(t, msgs[1], "7.25M")
}

func TestApplyParams(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(0, 0)}}
	e, _ := newTestEngine(t, f, &recordingDispatcher{}, thresholds(5, 5))

	var published []Snapshot
	e.OnSnapshot(func(s Snapshot) { published = append(published, s) })

	long, short := 1.5, -2.0
	zero := time.Duration(0)
	snap := e.ApplyParams("test", ParamUpdate{LongThreshold: &long, ShortThreshold: &short, PollInterval: &zero})

	assert.Equal(t, 1.5, snap.LongThreshold)
	assert.Equal(t, -2.0, snap.ShortThreshold)
	assert.Equal(t, 60.0, snap.PollIntervalSec, "non-positive interval is ignored")
	assert.Len(t, published, 1)
}

func TestStartReschedulesOnNewPeriod(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{okSample(0, 0)}}
	e, _ := newTestEngine(t, f, &recordingDispatcher{}, thresholds(5, 5))

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()
	assert.Error(t, e.Start(context.Background()))
	require.NoError(t, e.Health())
	assert.Equal(t, time.Minute, e.Scheduler().Period())

	period := 30 * time.Second
	e.ApplyParams("test", ParamUpdate{PollInterval: &period})
	assert.Equal(t, period, e.Scheduler().Period())
	assert.Equal(t, 1, e.Scheduler().ActiveTimers())

	// 立即执行的首个周期
	assert.Eventually(t, func() bool { return f.Calls() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestStopCancelsRetrySleep(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: errReset}}}
	e, err := New(Config{
		Symbol:          "BTC",
		Thresholds:      thresholds(5, 5),
		Retry:           RetryPolicy{MaxRetries: 3, Delay: time.Hour},
		ShutdownTimeout: time.Second,
	}, Components{Fetcher: f, Dispatcher: &recordingDispatcher{}})
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	assert.Eventually(t, func() bool { return f.Calls() >= 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, e.Stop())
	assert.Less(t, time.Since(start), time.Second)
	assert.Error(t, e.Health())
	assert.False(t, e.Scheduler().Running())
}

// 重试等待期间修改周期：在途周期继续重试并完成告警
func TestRescheduleDoesNotCancelInFlightRetry(t *testing.T) {
	f := &scriptedFetcher{results: []fetchResult{{err: errReset}, okSample(10, 0)}}
	d := &recordingDispatcher{}
	e, _ := newTestEngine(t, f, d, thresholds(5, 5))

	sleeping := make(chan struct{}, 1)
	release := make(chan struct{})
	e.sleep = func(ctx context.Context, _ time.Duration) error {
		sleeping <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	select {
	case <-sleeping:
	case <-time.After(time.Second):
		t.Fatalf("first attempt never entered retry delay")
	}

	period := 30 * time.Second
	e.ApplyParams("test", ParamUpdate{PollInterval: &period})
	require.Equal(t, period, e.Scheduler().Period())
	close(release)

	require.Eventually(t, func() bool {
		_, ok := e.State().Alerts().Last(SideLong)
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.Calls())
	assert.Equal(t, 1, d.count(SideLong))
	last, _ := e.State().Alerts().Last(SideLong)
	assert.Equal(t, 10.0, last)
}

func TestRetryPolicyCustomClassifier(t *testing.T) {
	boom := errors.New("boom")
	f := &scriptedFetcher{results: []fetchResult{{err: boom}, okSample(1, 1)}}
	e, sleeps := newTestEngine(t, f, &recordingDispatcher{}, thresholds(5, 5))
	e.config.Retry.Transient = func(err error) bool { return errors.Is(err, boom) }

	e.RunCycle(context.Background())

	assert.Equal(t, 2, f.Calls())
	assert.Len(t, *sleeps, 1)
}
