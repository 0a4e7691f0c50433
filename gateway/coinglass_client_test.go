package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoinglass(ts *httptest.Server) *CoinglassClient {
	return &CoinglassClient{
		BaseURL:    ts.URL,
		Path:       "/api/futures/liquidation/aggregated-history",
		APIKey:     "key",
		Symbol:     "BTC",
		Interval:   "1h",
		Timeout:    time.Second,
		HTTPClient: ts.Client(),
	}
}

func TestCoinglassLatestLiquidation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(APIKeyHeader) != "key" {
			t.Errorf("missing api key header")
		}
		q := r.URL.Query()
		if q.Get("limit") != "1" || q.Get("symbol") != "BTC" || q.Get("interval") != "1h" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		io.WriteString(w, `{"code":"0","msg":"success","data":[
			{"time":1,"longLiquidationUsd":"1.5","shortLiquidationUsd":2},
			{"time":2,"longLiquidationUsd":"6000000.25","shortLiquidationUsd":1234.5}
		]}`)
	}))
	defer ts.Close()

	s, err := newCoinglass(ts).LatestLiquidation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Time)
	assert.Equal(t, 6000000.25, s.Long)
	assert.Equal(t, 1234.5, s.Short)
}

func TestCoinglassMissingFieldIsZero(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code":0,"data":[{"time":3,"shortLiquidationUsd":"42"}]}`)
	}))
	defer ts.Close()

	s, err := newCoinglass(ts).LatestLiquidation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.Long)
	assert.Equal(t, 42.0, s.Short)
}

func TestCoinglassNonTransientFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"code":"30001","msg":"bad key"}`, ErrUnexpectedStatus},
		{"server error", http.StatusInternalServerError, ``, ErrUnexpectedStatus},
		{"business code", http.StatusOK, `{"code":"40001","msg":"limit"}`, ErrBadPayload},
		{"empty data", http.StatusOK, `{"code":"0","data":[]}`, ErrBadPayload},
		{"malformed", http.StatusOK, `{"code":`, ErrBadPayload},
		{"long overflows float64", http.StatusOK, `{"code":"0","data":[{"time":1,"longLiquidationUsd":"1e400"}]}`, ErrBadPayload},
		{"short overflows float64", http.StatusOK, `{"code":"0","data":[{"time":1,"longLiquidationUsd":1,"shortLiquidationUsd":-1e400}]}`, ErrBadPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer ts.Close()

			_, err := newCoinglass(ts).LatestLiquidation(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			assert.False(t, IsTransient(err))
		})
	}
}

func TestCoinglassTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	cli := newCoinglass(ts)
	cli.Timeout = 30 * time.Millisecond
	_, err := cli.LatestLiquidation(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err), "got %v", err)
}

func TestCoinglassConnectionDropIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("hijack not supported")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer ts.Close()

	_, err := newCoinglass(ts).LatestLiquidation(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err), "got %v", err)
}

func TestCoinglassNilClient(t *testing.T) {
	var c *CoinglassClient
	_, err := c.LatestLiquidation(context.Background())
	require.Error(t, err)
}
