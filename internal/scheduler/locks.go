package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const keyJobLock = "scheduler:lock:%s"

// acquire takes the cross-replica job lock. Without redis every replica
// runs every job; the jobs are idempotent so that is only wasted work.
func (s *Scheduler) acquire(ctx context.Context, job string) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	key := fmt.Sprintf(keyJobLock, job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("job lock unavailable, running unlocked", zap.String("job", job), zap.Error(err))
		return func() {}, true
	}
	if !ok {
		s.log.Debug("job locked by another replica", zap.String("job", job))
		return nil, false
	}
	return func() {
		if err := s.locker.Release(context.Background(), key, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}
