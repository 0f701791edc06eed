package scheduler

import (
	"context"
	"time"

	"custord/internal/logger"
)

// FixedScheduler 以启动时刻为锚点，每隔 Interval 执行一次；
// 任务超时不会累积补跑，直接跳到下一个锚点。
type FixedScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	nowFn func() time.Time
	log   logger.Component
}

func NewFixedScheduler(name string, interval time.Duration) *FixedScheduler {
	return &FixedScheduler{
		Name:     name,
		Interval: interval,
		nowFn:    time.Now,
		log:      logger.Named("scheduler." + name),
	}
}

// Start 阻塞直到 ctx 结束。
func (s *FixedScheduler) Start(ctx context.Context, task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		s.log.Warnf("invalid interval=%s, exit", s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	anchor := s.nowFn().UTC()
	s.log.Infof("started interval=%s run_immediately=%v at=%s", s.Interval, s.RunImmediately, anchor.Format(time.RFC3339))
	if s.RunImmediately {
		task(ctx)
	}
	for {
		now := s.nowFn().UTC()
		if !sleep(ctx, nextFixedTimeAfter(anchor, s.Interval, now).Sub(now)) {
			s.log.Infof("ctx done, exit")
			return
		}
		task(ctx)
	}
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
