// Package escalation 把已发出的 limit 退出请求在等待期后升级为 market 退出。
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"custord/internal/execution"
	"custord/internal/logger"
)

// DefaultWait 是 limit → market 的默认等待时间。
const DefaultWait = 2 * time.Minute

var ErrClosed = errors.New("escalator closed")

// Exiter 是升级时调用的退出接口。
type Exiter interface {
	RequestExit(ctx context.Context, tradeID string, orderType execution.OrderType) error
}

// Task 是一个待触发的升级。
type Task struct {
	TradeID    string
	Instrument string
	DueAt      time.Time
}

// ResultFunc 在每次升级执行完成后被调用，err 为 nil 表示成功。
type ResultFunc func(task Task, err error)

type Option func(*Escalator)

// WithJournal 持久化排期，配合 Resume 在重启后继续。
func WithJournal(j *Journal) Option {
	return func(e *Escalator) { e.journal = j }
}

func WithResultFunc(fn ResultFunc) Option {
	return func(e *Escalator) { e.onResult = fn }
}

func WithClock(now func() time.Time) Option {
	return func(e *Escalator) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithCallTimeout 限制单次 market 退出请求的耗时。
func WithCallTimeout(d time.Duration) Option {
	return func(e *Escalator) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// Escalator 为每个 trade 维护一个一次性定时器，触发后即释放。排期中的 trade 重复排期会被忽略；
// 配置 journal 时已触发过的 trade 也不会再次排期。
type Escalator struct {
	exec        Exiter
	wait        time.Duration
	journal     *Journal
	onResult    ResultFunc
	nowFn       func() time.Time
	callTimeout time.Duration
	log         logger.Component

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]Task
	closed  bool
	wg      sync.WaitGroup
}

func New(exec Exiter, wait time.Duration, opts ...Option) *Escalator {
	if wait <= 0 {
		wait = DefaultWait
	}
	e := &Escalator{
		exec:        exec,
		wait:        wait,
		nowFn:       time.Now,
		callTimeout: 30 * time.Second,
		log:         logger.Named("escalation"),
		timers:      make(map[string]*time.Timer),
		pending:     make(map[string]Task),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Escalator) Wait() time.Duration { return e.wait }

// Schedule 在 now+wait 时对 tradeID 发起 market 退出。返回 false 表示该 trade 已在排期中。
func (e *Escalator) Schedule(ctx context.Context, tradeID, instrument string) (bool, error) {
	tradeID = strings.TrimSpace(tradeID)
	if tradeID == "" {
		return false, fmt.Errorf("escalation requires a trade id")
	}
	task := Task{TradeID: tradeID, Instrument: instrument, DueAt: e.nowFn().Add(e.wait)}
	if e.journal != nil {
		fresh, err := e.journal.Record(ctx, task, e.nowFn())
		if err != nil {
			// journal 失败不影响内存排期
			e.log.Warnf("journal record trade=%s failed: %v", tradeID, err)
		} else if !fresh {
			// 已排期（由 Resume 负责）或已触发过
			e.log.Debugf("trade=%s already journaled", tradeID)
			return false, nil
		}
	}
	return e.arm(task)
}

// Resume 恢复 journal 中尚未触发的任务；已过期的任务立即触发。
func (e *Escalator) Resume(ctx context.Context) (int, error) {
	if e.journal == nil {
		return 0, nil
	}
	tasks, err := e.journal.Scheduled(ctx)
	if err != nil {
		return 0, fmt.Errorf("load scheduled escalations: %w", err)
	}
	n := 0
	for _, task := range tasks {
		ok, err := e.arm(task)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		e.log.Infof("resumed %d escalation(s)", n)
	}
	return n, nil
}

func (e *Escalator) arm(task Task) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false, ErrClosed
	}
	if _, exists := e.pending[task.TradeID]; exists {
		return false, nil
	}
	delay := task.DueAt.Sub(e.nowFn())
	if delay < 0 {
		delay = 0
	}
	e.pending[task.TradeID] = task
	e.wg.Add(1)
	e.timers[task.TradeID] = time.AfterFunc(delay, func() {
		defer e.wg.Done()
		e.fire(task)
	})
	e.log.Infof("scheduled market exit trade=%s instrument=%s in %s", task.TradeID, task.Instrument, delay.Round(time.Millisecond))
	return true, nil
}

func (e *Escalator) fire(task Task) {
	e.mu.Lock()
	delete(e.pending, task.TradeID)
	delete(e.timers, task.TradeID)
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	err := e.exec.RequestExit(ctx, task.TradeID, execution.OrderMarket)
	if err != nil {
		e.log.Errorf("market exit trade=%s failed: %v", task.TradeID, err)
	} else {
		e.log.Infof("market exit requested trade=%s instrument=%s", task.TradeID, task.Instrument)
	}
	if e.journal != nil {
		if jerr := e.journal.Finish(ctx, task.TradeID, err, e.nowFn()); jerr != nil {
			e.log.Warnf("journal finish trade=%s failed: %v", task.TradeID, jerr)
		}
	}
	if e.onResult != nil {
		e.onResult(task, err)
	}
}

// Pending 返回尚未触发的任务。
func (e *Escalator) Pending() []Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Task, 0, len(e.pending))
	for _, t := range e.pending {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out
}

// Close 停止所有未触发的定时器并等待正在执行的回调结束。未触发任务保留在 journal 中。
func (e *Escalator) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, t := range e.timers {
		if t.Stop() {
			e.wg.Done()
		}
		delete(e.timers, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
