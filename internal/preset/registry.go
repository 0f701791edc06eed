package preset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"custord/internal/logger"
	"custord/internal/order"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileConfig 映射预设文件：presets.<id>。
type FileConfig struct {
	Presets map[string]Preset `mapstructure:"presets" yaml:"presets"`
}

// Snapshot 是某一时刻的变体集合。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
}

type ChangeListener func(Snapshot)

// Registry 持有内置变体，并可叠加一个热加载的 YAML 文件。
type Registry struct {
	path string
	v    *viper.Viper
	log  logger.Component

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 在 path 为空时只包含内置变体。
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: strings.TrimSpace(path), log: logger.Named("preset")}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if r.path == "" {
		return r, nil
	}
	v := viper.New()
	v.SetConfigFile(r.path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset file failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			r.log.Errorf("preset reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	r.v = v
	return r, nil
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Get 按 ID 查找；空 ID 返回默认变体。
func (r *Registry) Get(id string) (Preset, bool) {
	id = normalizeKey(id)
	if id == "" {
		id = DefaultID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Presets[id]
	return p, ok
}

// List 按 ID 排序返回全部变体。
func (r *Registry) List() []Preset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Preset, 0, len(r.snapshot.Presets))
	for _, p := range r.snapshot.Presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve 返回解析后的变体 ID 与参数。
func (r *Registry) Resolve(id string, overrides map[string]any) (string, order.Params, error) {
	p, ok := r.Get(id)
	if !ok {
		return "", order.Params{}, fmt.Errorf("unknown preset: %s", id)
	}
	params, err := p.Resolve(overrides)
	if err != nil {
		return "", order.Params{}, err
	}
	return p.ID, params, nil
}

func (r *Registry) reload() error {
	presets := make(map[string]Preset)
	for _, p := range Builtins() {
		if err := p.compile(); err != nil {
			return err
		}
		presets[p.ID] = p
	}
	fromFile := 0
	if r.path != "" {
		cfg, err := readPresetFile(r.path)
		if err != nil {
			return err
		}
		for name, p := range cfg.Presets {
			p = normalizePreset(name, p)
			if err := p.compile(); err != nil {
				return err
			}
			presets[p.ID] = p
			fromFile++
		}
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
	}
	r.mu.Unlock()
	if r.path != "" {
		r.log.Infof("preset registry loaded %d presets (%d from %s)", len(presets), fromFile, filepath.Base(r.path))
	}
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Errorf("preset listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func normalizePreset(name string, p Preset) Preset {
	p.ID = normalizeKey(p.ID)
	if p.ID == "" {
		p.ID = normalizeKey(name)
	}
	p.Description = strings.TrimSpace(p.Description)
	p.Tiers.Reference = normalizeKey(p.Tiers.Reference)
	p.Tiers.LooseStop = normalizeKey(p.Tiers.LooseStop)
	return p
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]Preset, len(src.Presets)),
	}
	for id, p := range src.Presets {
		dst.Presets[id] = p
	}
	return dst
}

func readPresetFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read preset file failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse preset file failed: %w", err)
	}
	return cfg, nil
}

// Export 以 YAML 输出当前全部变体，便于作为预设文件的起点。
func (r *Registry) Export() ([]byte, error) {
	cfg := FileConfig{Presets: map[string]Preset{}}
	for _, p := range r.List() {
		cfg.Presets[p.ID] = p
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
