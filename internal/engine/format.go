package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Attribution 每条告警末尾固定的署名行
const Attribution = "Data source: CoinGlass"

var (
	printer  = message.NewPrinter(language.English)
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
)

// FormatFull 千分位 + 两位小数，十进制四舍五入（999.995 -> 1,000.00）。
func FormatFull(v float64) string {
	if !isFinite(v) {
		return nonFinite(v)
	}
	rounded := decimal.NewFromFloat(v).Round(2).InexactFloat64()
	return printer.Sprintf("%.2f", rounded)
}

// FormatCompact 紧凑写法：
//   - >= 1e6: 截断到两位小数后去掉尾零（至少保留一位），如 2.34M、6.0M
//   - >= 1e3: 截断为整数，如 15K
//   - 其余: 两位小数
func FormatCompact(v float64) string {
	if !isFinite(v) {
		return nonFinite(v)
	}
	d := decimal.NewFromFloat(v)
	switch {
	case v >= 1_000_000:
		s := d.Div(million).Truncate(2).String()
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s + "M"
	case v >= 1_000:
		return d.Div(thousand).Truncate(0).String() + "K"
	default:
		return d.StringFixed(2)
	}
}

func isFinite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

// nonFinite decimal 无法表示 ±Inf/NaN，原样输出
func nonFinite(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatAlert 生成发送给消息端的正文
func FormatAlert(side Side, symbol string, value float64) string {
	return fmt.Sprintf("🚨 %s liquidation alert\nSymbol: %s\nVolume: $%s (%s)\n\n%s",
		side, symbol, FormatFull(value), FormatCompact(value), Attribution)
}
