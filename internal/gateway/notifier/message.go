package notifier

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Telegram 单条消息上限 4096，留出余量。
const maxMessageLen = 3800

// Field 渲染为一行 "key: value"，空值跳过。
type Field struct {
	Key   string
	Value string
}

// Section 是代码块中的一组字段。
type Section struct {
	Title  string
	Fields []Field
}

// Message 是订单事件推送（退出、取消、升级）。
type Message struct {
	Icon     string
	Title    string
	Sections []Section
	Footer   string
	At       time.Time
}

// Render 生成 Markdown 文本，超长时按字符边界截断。
func (m Message) Render() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header)
		b.WriteString("\n\n")
	}
	if block := renderFields(m.Sections); block != "" {
		b.WriteString("```\n")
		b.WriteString(block)
		b.WriteString("```\n\n")
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer))
		b.WriteString("\n")
	}
	if !m.At.IsZero() {
		b.WriteString(m.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	return truncate(strings.TrimSpace(b.String()), maxMessageLen)
}

func renderFields(secs []Section) string {
	var blocks []string
	for _, sec := range secs {
		var lines []string
		for _, f := range sec.Fields {
			val := strings.TrimSpace(f.Value)
			if val == "" {
				continue
			}
			if key := strings.TrimSpace(f.Key); key != "" {
				val = key + ": " + val
			}
			lines = append(lines, escapeFence(val))
		}
		if len(lines) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			lines = append([]string{"[" + escapeFence(title) + "]"}, lines...)
		}
		blocks = append(blocks, strings.Join(lines, "\n")+"\n")
	}
	return strings.Join(blocks, "\n")
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
