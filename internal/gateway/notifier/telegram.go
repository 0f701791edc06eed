package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTelegramAPI = "https://api.telegram.org"
	telegramAttempts   = 3
)

// Telegram 把订单事件（退出、超时取消、升级）推送到指定 chat。
type Telegram struct {
	BotToken string
	ChatID   string
	Client   *http.Client
	// APIBase 默认 api.telegram.org，测试时指向 httptest。
	APIBase string

	sleep func(time.Duration)
}

func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		BotToken: strings.TrimSpace(botToken),
		ChatID:   strings.TrimSpace(chatID),
		Client:   &http.Client{Timeout: 15 * time.Second},
		APIBase:  defaultTelegramAPI,
		sleep:    time.Sleep,
	}
}

// SendText 发送 Markdown 文本，失败最多重试 3 次，退避 1s/2s。
func (t *Telegram) SendText(text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return fmt.Errorf("telegram 配置不完整")
	}
	base := strings.TrimRight(t.APIBase, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	sleep := t.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	var lastErr error
	for i := 0; i < telegramAttempts; i++ {
		if i > 0 {
			sleep(time.Duration(i) * time.Second)
		}
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.Client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = fmt.Errorf("telegram status=%d", resp.StatusCode)
	}
	return lastErr
}
