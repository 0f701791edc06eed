package apihttp

import (
	"fmt"
	"math"
	"net/http"
	"strconv"

	"custord/internal/indicator"
	"custord/internal/order"
	"custord/internal/strategy/exit"

	"github.com/gin-gonic/gin"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorPrice   = "#2962ff"
	colorMA      = "#ff9800"
	colorEntry   = "#26a69a"
	colorHighest = "#ab47bc"
	colorStop    = "#ef5350"
	colorTarget  = "#78909c"
)

// levelSeries 是画成水平线的价位。
type levelSeries struct {
	name  string
	value float64
	color string
}

// handleChart 渲染最近价格、均线与当前止损位置。
func (r *Router) handleChart(c *gin.Context) {
	inst := instrumentParam(c)
	rec, ok, err := r.desk.Get(c.Request.Context(), inst)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active order for " + inst})
		return
	}
	line := buildOrderChart(inst, rec, r.engine)
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := line.Render(c.Writer); err != nil {
		log.Errorf("[api] render chart %s: %v", inst, err)
	}
}

func buildOrderChart(inst string, rec order.Record, engine *exit.Engine) *charts.Line {
	prices := rec.RecentPrices
	xAxis := make([]string, len(prices))
	for i := range prices {
		xAxis[i] = strconv.Itoa(i - len(prices) + 1)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: inst,
			Width:     "1200px",
			Height:    "560px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s %s", inst, rec.Status),
			Subtitle: chartSubtitle(rec),
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("price", lineData(prices), charts.WithLineStyleOpts(opts.LineStyle{Color: colorPrice, Width: 2}))

	if rec.Params.UsesMA() {
		if kind, period, err := rec.Params.MovingAverage(); err == nil {
			if ma, err := indicator.MovingAverage(prices, indicator.Kind(kind), period); err == nil {
				name := fmt.Sprintf("%s(%d)", kind, period)
				line.AddSeries(name, lineData(ma), charts.WithLineStyleOpts(opts.LineStyle{Color: colorMA, Width: 1}))
			}
		}
	}

	for _, lvl := range chartLevels(rec, engine) {
		if lvl.value <= 0 || len(prices) == 0 {
			continue
		}
		flat := make([]float64, len(prices))
		for i := range flat {
			flat[i] = lvl.value
		}
		line.AddSeries(lvl.name, lineData(flat), charts.WithLineStyleOpts(opts.LineStyle{Color: lvl.color, Width: 1, Type: "dashed"}))
	}
	return line
}

// chartLevels 持仓时按退出引擎当前的快照给出最高价与止损；WAITING 时给出目标价。
func chartLevels(rec order.Record, engine *exit.Engine) []levelSeries {
	var levels []levelSeries
	if rec.Condition != nil && rec.Condition.TargetPrice != nil {
		levels = append(levels, levelSeries{name: "target", value: *rec.Condition.TargetPrice, color: colorTarget})
	}
	if rec.Status != order.StatusHolding || rec.EntryPrice <= 0 {
		return levels
	}
	levels = append(levels, levelSeries{name: "entry", value: rec.EntryPrice, color: colorEntry})
	if engine == nil || rec.CurrentPrice <= 0 {
		return levels
	}
	// 只读评估：结果不写回
	out, err := engine.Evaluate(rec.Clone(), exit.Input{Rate: rec.CurrentPrice, Closes: rec.RecentPrices})
	if err != nil {
		return levels
	}
	levels = append(levels, levelSeries{name: "highest", value: out.Snapshot.Highest, color: colorHighest})
	if out.Stop > 0 {
		levels = append(levels, levelSeries{name: "stop", value: out.Stop, color: colorStop})
	}
	return levels
}

func chartSubtitle(rec order.Record) string {
	sub := fmt.Sprintf("preset=%s stake=%s", rec.Preset, rec.StakeAmount)
	if rec.CurrentPrice > 0 {
		sub += fmt.Sprintf(" last=%.8g", rec.CurrentPrice)
	}
	if rec.ExitReason != "" {
		sub += " exit=" + string(rec.ExitReason)
	}
	return sub
}

// lineData 把 NaN 转为空点，echarts 会在该处断开。
func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: "-"}
			continue
		}
		out[i] = opts.LineData{Value: v}
	}
	return out
}
