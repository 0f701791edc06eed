package scheduler

import (
	"context"
	"time"

	"custord/internal/logger"
)

// AlignedScheduler 在每根 K 线收盘后 Offset 时刻执行任务。
type AlignedScheduler struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
	log   logger.Component
}

func NewAlignedScheduler(name string, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
		log:      logger.Named("scheduler." + name),
	}
}

// Start 阻塞直到 ctx 结束。
func (s *AlignedScheduler) Start(ctx context.Context, task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		s.log.Warnf("invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		s.log.Warnf("negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	nextClose, wakeAt, untilClose, wait := s.nextTimes(startAt)
	s.log.Infof("started interval=%s offset=%s run_immediately=%v; 距离K线收盘=%s (收盘=%s) 下一次执行=%s (in %s)",
		s.Interval, s.Offset, s.RunImmediately,
		untilClose.Truncate(time.Second),
		nextClose.Format(time.RFC3339),
		wakeAt.Format(time.RFC3339),
		wait.Truncate(time.Second),
	)

	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn().UTC()
		_, wakeAt, _, wait := s.nextTimes(now)
		s.log.Debugf("next run at %s (in %s) | uptime=%s",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))
		if !sleep(ctx, wait) {
			s.log.Infof("ctx done, exit")
			return
		}
		task(ctx)
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose time.Time, wakeAt time.Time, untilClose time.Duration, wait time.Duration) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	untilClose = nextClose.Sub(now)
	wait = wakeAt.Sub(now)
	return nextClose, wakeAt, untilClose, wait
}

// sleep 返回 false 表示 ctx 已结束。
func sleep(ctx context.Context, wait time.Duration) bool {
	if wait <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
