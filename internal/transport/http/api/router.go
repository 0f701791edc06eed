package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custord/internal/gateway/freqtrade"
	"custord/internal/order"
	"custord/internal/orders"
	"custord/internal/pkg/symbol"
	"custord/internal/preset"
	"custord/internal/store"
	"custord/internal/strategy/exit"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Router 挂载 /api 下的订单、变体与 webhook 接口。
type Router struct {
	desk      *orders.Desk
	presets   *preset.Registry
	converter symbol.Converter
	schemas   payloadSchemas
	engine    *exit.Engine
	now       func() time.Time
}

// NewRouter 构造 API router；presets 为空时 /presets 返回 503。
func NewRouter(desk *orders.Desk, presets *preset.Registry, converter symbol.Converter) (*Router, error) {
	schemas, err := compilePayloadSchemas()
	if err != nil {
		return nil, err
	}
	return &Router{
		desk:      desk,
		presets:   presets,
		converter: converter,
		schemas:   schemas,
		engine:    exit.NewEngine(),
		now:       time.Now,
	}, nil
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/orders", r.handleList)
	group.POST("/orders", r.handlePlace)
	group.GET("/orders/history", r.handleHistory)
	group.GET("/orders/:base/:quote", r.handleGet)
	group.PATCH("/orders/:base/:quote", r.handleEdit)
	group.POST("/orders/:base/:quote/fill", r.handleFill)
	group.POST("/orders/:base/:quote/exit", r.handleExit)
	group.GET("/orders/:base/:quote/chart", r.handleChart)
	group.GET("/presets", r.handlePresets)
	group.POST("/freqtrade/webhook", r.handleFreqtradeWebhook)
}

func instrumentParam(c *gin.Context) string {
	return order.NormalizeInstrument(c.Param("base") + "/" + c.Param("quote"))
}

// writeError 把领域错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orders.ErrInvalidRequest),
		errors.Is(err, order.ErrInvalidCondition),
		errors.Is(err, order.ErrMissingParameter):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInstrumentBusy), errors.Is(err, store.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, store.ErrStoreLocked):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		log.Errorf("[api] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (r *Router) handleList(c *gin.Context) {
	var statuses []order.Status
	for _, raw := range c.QueryArray("status") {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			st, err := order.ParseStatus(part)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			statuses = append(statuses, st)
		}
	}
	list, err := r.desk.List(c.Request.Context(), statuses...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list, "count": len(list)})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := r.desk.History(c.Request.Context(), c.Query("instrument"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []order.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}

func (r *Router) handleGet(c *gin.Context) {
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
	c.JSON(http.StatusOK, orders.Entry{Instrument: inst, Record: rec})
}

func (r *Router) handlePlace(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validatePayload(r.schemas.place, raw); err != nil {
		writeError(c, err)
		return
	}
	var body placeRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cond, err := body.EntryCondition.toCondition(r.now())
	if err != nil {
		writeError(c, err)
		return
	}
	rec, err := r.desk.Place(c.Request.Context(), orders.PlaceRequest{
		Instrument: body.Instrument,
		Preset:     body.Preset,
		Overrides:  body.Params,
		Stake:      body.StakeAmount,
		Condition:  cond,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, orders.Entry{Instrument: order.NormalizeInstrument(body.Instrument), Record: rec})
}

func (r *Router) handleEdit(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validatePayload(r.schemas.edit, raw); err != nil {
		writeError(c, err)
		return
	}
	var body editRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := orders.EditRequest{Params: body.Params, Stake: body.StakeAmount}
	if req.Condition, err = body.EntryCondition.toCondition(r.now()); err != nil {
		writeError(c, err)
		return
	}
	if body.Status != "" {
		st, err := order.ParseStatus(body.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Status = &st
	}
	inst := instrumentParam(c)
	rec, err := r.desk.Edit(c.Request.Context(), inst, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders.Entry{Instrument: inst, Record: rec})
}

// handleFill 接受 trade_id 为数字或字符串（dry 执行器的 id 不是数字）。
func (r *Router) handleFill(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !gjson.ValidBytes(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object"})
		return
	}
	doc := gjson.ParseBytes(raw)
	inst := instrumentParam(c)
	rec, err := r.desk.ConfirmFill(c.Request.Context(), inst, orders.Fill{
		TradeID:  strings.TrimSpace(doc.Get("trade_id").String()),
		OpenRate: doc.Get("open_rate").Float(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders.Entry{Instrument: inst, Record: rec})
}

func (r *Router) handleExit(c *gin.Context) {
	var body exitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if body.Price < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price must be >= 0"})
		return
	}
	inst := instrumentParam(c)
	rec, err := r.desk.ForceExit(c.Request.Context(), inst, body.Price)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders.Entry{Instrument: inst, Record: rec})
}

func (r *Router) handlePresets(c *gin.Context) {
	if r.presets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "preset registry disabled"})
		return
	}
	if strings.EqualFold(c.Query("format"), "yaml") {
		raw, err := r.presets.Export()
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/yaml; charset=utf-8", raw)
		return
	}
	list := r.presets.List()
	out := make([]presetView, 0, len(list))
	for _, p := range list {
		out = append(out, presetView{
			ID:          p.ID,
			Description: p.Description,
			Default:     p.ID == preset.DefaultID,
			Tiers:       p.Tiers,
			Defaults:    p.Defaults,
			Required:    p.Required,
		})
	}
	c.JSON(http.StatusOK, gin.H{"presets": out, "default": preset.DefaultID})
}

// handleFreqtradeWebhook 只消费 entry_fill；其余事件记录后忽略。
func (r *Router) handleFreqtradeWebhook(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ev, err := freqtrade.ParseWebhook(raw)
	if err != nil {
		log.Warnf("[api] freqtrade webhook 解析失败 ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst := r.instrumentFromPair(ev.Pair)
	switch {
	case ev.IsEntryFill():
		if inst == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entry_fill without pair"})
			return
		}
		fill := orders.Fill{OpenRate: ev.OpenRate}
		if ev.TradeID > 0 {
			fill.TradeID = strconv.Itoa(ev.TradeID)
		}
		rec, err := r.desk.ConfirmFill(c.Request.Context(), inst, fill)
		if errors.Is(err, store.ErrNotFound) {
			log.Infof("[api] entry_fill for unmanaged %s trade=%d ignored", inst, ev.TradeID)
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "filled", "instrument": inst, "order": rec})
	case ev.IsExitFill():
		log.Infof("[api] exit_fill %s trade=%d close=%.8f reason=%s", inst, ev.TradeID, ev.CloseRate, ev.ExitReason)
		c.JSON(http.StatusOK, gin.H{"status": "noted"})
	default:
		log.Debugf("[api] webhook %s for %s ignored", ev.Type, inst)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (r *Router) instrumentFromPair(pair string) string {
	if strings.TrimSpace(pair) == "" {
		return ""
	}
	if r.converter != nil {
		return order.NormalizeInstrument(r.converter.FromExchange(pair))
	}
	return order.NormalizeInstrument(pair)
}
