package freqtrade

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custord/internal/config"
)

// Client wraps the freqtrade REST API calls the order engine needs.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	username   string
	password   string
	token      string
}

// NewClient constructs a freqtrade client from configuration.
func NewClient(cfg config.FreqtradeConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("freqtrade 未启用")
	}
	raw := strings.TrimSpace(cfg.APIURL)
	if raw == "" {
		return nil, fmt.Errorf("freqtrade.api_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 freqtrade.api_url 失败: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		if transport.TLSClientConfig == nil {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
		} else {
			transport.TLSClientConfig.InsecureSkipVerify = true // #nosec G402
		}
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		username:   strings.TrimSpace(cfg.Username),
		password:   strings.TrimSpace(cfg.Password),
		token:      strings.TrimSpace(cfg.APIToken),
	}, nil
}

// entryPayload / exitPayload 对应 /forceenter 与 /forceexit 的请求体。
type entryPayload struct {
	Pair        string  `json:"pair"`
	Side        string  `json:"side"`
	OrderType   string  `json:"ordertype,omitempty"`
	StakeAmount float64 `json:"stakeamount"`
	EntryTag    string  `json:"entry_tag,omitempty"`
}

type exitPayload struct {
	TradeID   string `json:"tradeid"`
	OrderType string `json:"ordertype"`
}

// EnterLong 以 stake 计价金额市价做多 pair，返回 freqtrade 分配的 trade_id。
func (c *Client) EnterLong(ctx context.Context, pair string, stake float64, tag string) (int, error) {
	if stake <= 0 {
		return 0, fmt.Errorf("forceenter %s: stake must be > 0", pair)
	}
	var resp struct {
		TradeID int `json:"trade_id"`
	}
	payload := entryPayload{Pair: pair, Side: "long", StakeAmount: stake, EntryTag: tag}
	if err := c.doRequest(ctx, http.MethodPost, "/forceenter", payload, &resp); err != nil {
		return 0, err
	}
	if resp.TradeID == 0 {
		return 0, fmt.Errorf("freqtrade 未返回 trade_id")
	}
	return resp.TradeID, nil
}

// Exit 请求平掉整笔 trade；orderType 为 limit 或 market。
func (c *Client) Exit(ctx context.Context, tradeID, orderType string) error {
	return c.doRequest(ctx, http.MethodPost, "/forceexit", exitPayload{TradeID: tradeID, OrderType: orderType}, nil)
}

// Position 是 /status 中订单引擎关心的持仓状态。
type Position struct {
	TradeID       int     `json:"trade_id"`
	Pair          string  `json:"pair"`
	OpenRate      float64 `json:"open_rate"`
	IsOpen        bool    `json:"is_open"`
	HasOpenOrders bool    `json:"has_open_orders"`
}

// Filled 表示入场单已完全成交，open_rate 可作为入场价。
func (p Position) Filled() bool {
	return p.OpenRate > 0 && !p.HasOpenOrders
}

// OpenPositions 返回仍持仓的 trade。/status 在不同版本下返回数组或 {"trades": [...]}。
func (c *Client) OpenPositions(ctx context.Context) ([]Position, error) {
	var raw []byte
	if err := c.doRequest(ctx, http.MethodGet, "/status", nil, &raw); err != nil {
		return nil, err
	}
	body := bytes.TrimSpace(raw)
	if len(body) == 0 || string(body) == "null" {
		return nil, nil
	}
	var all []Position
	if body[0] == '[' {
		if err := json.Unmarshal(body, &all); err != nil {
			return nil, fmt.Errorf("无法解析 freqtrade status 响应: %w", err)
		}
	} else {
		var env struct {
			Trades []Position `json:"trades"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("无法解析 freqtrade status 响应: %w", err)
		}
		all = env.Trades
	}
	open := all[:0]
	for _, p := range all {
		if p.IsOpen {
			open = append(open, p)
		}
	}
	return open, nil
}

// Ping 调用 /ping，用于健康检查。
func (c *Client) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return err
	}
	if out.Status != "pong" {
		return fmt.Errorf("freqtrade ping 返回 %q", out.Status)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, payload any, out any) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("freqtrade client 未初始化")
	}
	endpoint, err := c.resolveEndpoint(path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 freqtrade 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return fmt.Errorf("freqtrade 返回错误: %s", resp.Status)
		}
		return fmt.Errorf("freqtrade 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("读取 freqtrade 响应失败: %w", err)
		}
		*raw = data
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 freqtrade 响应失败: %w", err)
	}
	return nil
}

func (c *Client) resolveEndpoint(path string) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("freqtrade API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		trimmed = "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = query
	base.Fragment = ""
	return &base, nil
}
