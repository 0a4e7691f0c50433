// Package control serves the operator dashboard and the runtime parameter endpoint.
package control

import (
	"html/template"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"

	"liquidation-alert-go/infrastructure/logger"
	"liquidation-alert-go/internal/engine"
)

// Source 控制面在日志/事件中的来源标识
const Source = "control"

// Controller 控制面需要的引擎能力
type Controller interface {
	Snapshot() engine.Snapshot
	ApplyParams(source string, u engine.ParamUpdate) engine.Snapshot
}

// RequestRecorder 请求计数（infrastructure/monitor 实现）
type RequestRecorder interface {
	RecordHTTPRequest(route string, code int, seconds float64)
}

// Options 控制面依赖
type Options struct {
	Controller Controller
	Logger     *logger.Logger
	Metrics    RequestRecorder
	Health     func() error
	Stream     http.HandlerFunc // 为空时不注册 /ws
}

// Server gin 路由与处理函数
type Server struct {
	router     *gin.Engine
	controller Controller
	logger     *logger.Logger
	metrics    RequestRecorder
	health     func() error
	stream     http.HandlerFunc
}

// NewServer 创建控制面
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	s := &Server{
		controller: opts.Controller,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		health:     opts.Health,
		stream:     opts.Stream,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(opts.Logger.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(opts.Logger.Logger, true))
	if s.metrics != nil {
		router.Use(s.recordRequest)
	}
	s.router = router
	s.registerRoutes()
	return s
}

// Router 返回 gin 引擎（测试与 http.Server 使用）
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/", s.dashboard)
	s.router.POST("/set-params", s.setParams)
	s.router.GET("/api/state", s.state)
	s.router.GET("/healthz", s.healthz)
	if s.stream != nil {
		s.router.GET("/ws", gin.WrapF(s.stream))
	}
}

func (s *Server) recordRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	s.metrics.RecordHTTPRequest(route, c.Writer.Status(), time.Since(start).Seconds())
}

func (s *Server) dashboard(c *gin.Context) {
	snap := s.controller.Snapshot()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := dashboardTmpl.Execute(c.Writer, newDashboardView(snap)); err != nil {
		s.logger.LogError(err, map[string]interface{}{"action": "render_dashboard"})
	}
}

// setParams 合并表单参数。无法解析的字段静默忽略，始终重定向回首页。
func (s *Server) setParams(c *gin.Context) {
	u := parseParams(c.PostForm("longThreshold"), c.PostForm("shortThreshold"), c.PostForm("pollInterval"))
	s.controller.ApplyParams(Source, u)
	c.Redirect(http.StatusFound, "/")
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller.Snapshot())
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// parseParams 把表单值转换成参数更新；非有限数、非正周期不会出现在结果里。
func parseParams(long, short, poll string) engine.ParamUpdate {
	var u engine.ParamUpdate
	if v, ok := parseFinite(long); ok {
		u.LongThreshold = &v
	}
	if v, ok := parseFinite(short); ok {
		u.ShortThreshold = &v
	}
	if d, ok := parsePeriod(poll); ok {
		u.PollInterval = &d
	}
	return u
}

func parseFinite(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// parsePeriod 秒（可带小数）-> time.Duration，必须为正且不溢出
func parsePeriod(raw string) (time.Duration, bool) {
	secs, ok := parseFinite(raw)
	if !ok || secs <= 0 {
		return 0, false
	}
	ns := secs * float64(time.Second)
	if ns >= math.MaxInt64 {
		return 0, false
	}
	d := time.Duration(ns)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

type dashboardView struct {
	Snap          engine.Snapshot
	RefreshSec    int
	LastLong      string
	LastShort     string
	LongAlerted   string
	ShortAlerted  string
	LongThreshold string
	ShortThresh   string
	SampledAt     string
	LongInput     string // 表单回显用的原始数值
	ShortInput    string
	PollInput     string
}

func newDashboardView(snap engine.Snapshot) dashboardView {
	v := dashboardView{
		Snap:          snap,
		RefreshSec:    int(math.Max(1, math.Ceil(snap.PollIntervalSec))),
		LastLong:      engine.FormatFull(snap.LastLongValue),
		LastShort:     engine.FormatFull(snap.LastShortValue),
		LongAlerted:   "-",
		ShortAlerted:  "-",
		LongThreshold: engine.FormatFull(snap.LongThreshold),
		ShortThresh:   engine.FormatFull(snap.ShortThreshold),
		SampledAt:     "never",
		LongInput:     plain(snap.LongThreshold),
		ShortInput:    plain(snap.ShortThreshold),
		PollInput:     plain(snap.PollIntervalSec),
	}
	if snap.HasSample {
		v.SampledAt = snap.SampledAt.UTC().Format(time.RFC3339)
	}
	if snap.LastLongAlerted != nil {
		v.LongAlerted = engine.FormatFull(*snap.LastLongAlerted)
	}
	if snap.LastShortAlerted != nil {
		v.ShortAlerted = engine.FormatFull(*snap.LastShortAlerted)
	}
	return v
}

func plain(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta http-equiv="refresh" content="{{.RefreshSec}}">
  <title>{{.Snap.Symbol}} liquidation monitor</title>
</head>
<body>
  <h1>{{.Snap.Symbol}} liquidations</h1>
  <table>
    <tr><th></th><th>Latest</th><th>Threshold</th><th>Last alerted</th></tr>
    <tr><td>LONG</td><td id="long">{{.LastLong}}</td><td>{{.LongThreshold}}</td><td id="long-alerted">{{.LongAlerted}}</td></tr>
    <tr><td>SHORT</td><td id="short">{{.LastShort}}</td><td>{{.ShortThresh}}</td><td id="short-alerted">{{.ShortAlerted}}</td></tr>
  </table>
  <p>Sampled at <span id="sampled">{{.SampledAt}}</span>, every {{.PollInput}}s</p>

  <form method="POST" action="/set-params">
    <label>Long threshold <input name="longThreshold" value="{{.LongInput}}"></label>
    <label>Short threshold <input name="shortThreshold" value="{{.ShortInput}}"></label>
    <label>Poll interval (s) <input name="pollInterval" value="{{.PollInput}}"></label>
    <button type="submit">Update</button>
  </form>

  <script>
    (function () {
      if (!window.WebSocket) return;
      var proto = location.protocol === "https:" ? "wss://" : "ws://";
      var ws = new WebSocket(proto + location.host + "/ws");
      var fmt = new Intl.NumberFormat("en-US", {minimumFractionDigits: 2, maximumFractionDigits: 2});
      ws.onmessage = function (ev) {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "state") return;
        var s = msg.data;
        document.getElementById("long").textContent = fmt.format(s.lastLongValue);
        document.getElementById("short").textContent = fmt.format(s.lastShortValue);
        document.getElementById("long-alerted").textContent = s.lastLongAlerted == null ? "-" : fmt.format(s.lastLongAlerted);
        document.getElementById("short-alerted").textContent = s.lastShortAlerted == null ? "-" : fmt.format(s.lastShortAlerted);
        if (s.hasSample) document.getElementById("sampled").textContent = s.sampledAt;
      };
    })();
  </script>
</body>
</html>
`))
