package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liquidation-alert-go/gateway"
	"liquidation-alert-go/internal/engine"
)

type staticFetcher struct{}

func (staticFetcher) LatestLiquidation(context.Context) (gateway.LiquidationSample, error) {
	return gateway.LiquidationSample{Long: 10, Short: 20}, nil
}

type acceptDispatcher struct{}

func (acceptDispatcher) Dispatch(context.Context, string) bool { return true }

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.New(engine.Config{
		Symbol: "BTC",
		Thresholds: engine.ThresholdConfig{
			LongThreshold:  1e9,
			ShortThreshold: 1e9,
			PollInterval:   time.Hour,
		},
	}, engine.Components{Fetcher: staticFetcher{}, Dispatcher: acceptDispatcher{}})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() { _ = eng.Stop() })
	return eng
}
