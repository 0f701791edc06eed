package notifier

import "sync"

// TextNotifier 是最小的文本推送接口。
type TextNotifier interface {
	SendText(text string) error
}

// Nop 丢弃所有消息，未配置 Telegram 时使用。
type Nop struct{}

func (Nop) SendText(string) error { return nil }

// Recorder 在内存中收集消息，测试与 dry 模式使用。
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

func (r *Recorder) SendText(text string) error {
	r.mu.Lock()
	r.messages = append(r.messages, text)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
