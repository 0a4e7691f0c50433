package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// APIKeyHeader CoinGlass 鉴权头。
const APIKeyHeader = "CG-API-KEY"

var (
	// ErrUnexpectedStatus 非 2xx 响应。
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrBadPayload 响应无法解析或业务码非 0。
	ErrBadPayload = errors.New("bad payload")
)

// LiquidationSample 最新一根清算柱的多空爆仓额（USD）。
type LiquidationSample struct {
	Time  int64
	Long  float64
	Short float64
}

// CoinglassClient 拉取聚合清算历史；HTTPClient 可注入 httptest。
type CoinglassClient struct {
	BaseURL    string
	Path       string
	APIKey     string
	Symbol     string
	Interval   string
	Timeout    time.Duration
	HTTPClient *http.Client
	Limiter    RateLimiter
}

type liquidationPoint struct {
	Time  int64           `json:"time"`
	Long  decimal.Decimal `json:"longLiquidationUsd"`
	Short decimal.Decimal `json:"shortLiquidationUsd"`
}

type liquidationResp struct {
	Code json.RawMessage    `json:"code"`
	Msg  string             `json:"msg"`
	Data []liquidationPoint `json:"data"`
}

// LatestLiquidation 调用 {path}?symbol=&interval=&limit=1，只取最后一个数据点。
// 缺失的字段按 0 处理。
func (c *CoinglassClient) LatestLiquidation(ctx context.Context) (LiquidationSample, error) {
	var out LiquidationSample
	if c == nil || c.HTTPClient == nil {
		return out, fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return out, err
		}
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	q := url.Values{}
	q.Set("symbol", c.Symbol)
	if c.Interval != "" {
		q.Set("interval", c.Interval)
	}
	q.Set("limit", "1")
	endpoint := c.BaseURL + c.Path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(APIKeyHeader, c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return out, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out, fmt.Errorf("%w %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var lr liquidationResp
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		// 读 body 过程中的连接重置/超时仍按网络错误处理
		if IsTransient(err) {
			return out, err
		}
		return out, fmt.Errorf("%w: decode: %v", ErrBadPayload, err)
	}
	if code := envelopeCode(lr.Code); code != "" && code != "0" {
		return out, fmt.Errorf("%w: code=%s msg=%s", ErrBadPayload, code, lr.Msg)
	}
	if len(lr.Data) == 0 {
		return out, fmt.Errorf("%w: empty data", ErrBadPayload)
	}

	last := lr.Data[len(lr.Data)-1]
	long, ok := finite(last.Long)
	if !ok {
		return out, fmt.Errorf("%w: longLiquidationUsd out of range: %s", ErrBadPayload, last.Long.String())
	}
	short, ok := finite(last.Short)
	if !ok {
		return out, fmt.Errorf("%w: shortLiquidationUsd out of range: %s", ErrBadPayload, last.Short.String())
	}
	out.Time = last.Time
	out.Long = long
	out.Short = short
	return out, nil
}

// finite 超出 float64 范围的数值会变成 ±Inf，按坏数据处理
func finite(d decimal.Decimal) (float64, bool) {
	v := d.InexactFloat64()
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// envelopeCode 兼容 "0" 与 0 两种写法。
func envelopeCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return string(raw)
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
