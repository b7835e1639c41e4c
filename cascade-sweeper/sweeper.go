package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sogeor/flow/domain"
	"github.com/sogeor/flow/storage"
)

type intentQueue interface {
	Next(ctx context.Context, lease time.Duration) (*storage.PendingIntent, error)
	Complete(ctx context.Context, receipt string) error
}

type replayer interface {
	Replay(ctx context.Context, intent domain.CascadeIntent) error
}

// sweeper finishes cascades whose intent was never completed. A failed
// replay leaves the message in the queue; it becomes visible again once the
// lease runs out.
type sweeper struct {
	intents    intentQueue
	cascade    replayer
	lease      time.Duration
	idleWait   time.Duration
	maxDequeue int64
	log        *log.Logger
}

func (s *sweeper) run(ctx context.Context) {
	for ctx.Err() == nil {
		handled, err := s.sweepOne(ctx)
		if err != nil {
			s.log.WithError(err).Warn("sweep failed")
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(s.idleWait):
		}
	}
}

// sweepOne processes at most one intent and reports whether there was one.
func (s *sweeper) sweepOne(ctx context.Context) (bool, error) {
	p, err := s.intents.Next(ctx, s.lease)
	if p == nil {
		return false, err
	}
	fields := log.Fields{"dequeue_count": p.DequeueCount}
	if err != nil {
		s.log.WithFields(fields).WithError(err).Error("dropping unreadable intent")
		return true, s.intents.Complete(ctx, p.Receipt)
	}
	fields["cascade"] = p.Intent.Kind
	fields["root"] = p.Intent.RootID
	if s.maxDequeue > 0 && p.DequeueCount > s.maxDequeue {
		s.log.WithFields(fields).Error("dropping intent after too many attempts")
		return true, s.intents.Complete(ctx, p.Receipt)
	}
	if err := s.cascade.Replay(ctx, p.Intent); err != nil {
		s.log.WithFields(fields).WithError(err).Warn("replay failed; will retry")
		return true, err
	}
	if err := s.intents.Complete(ctx, p.Receipt); err != nil {
		return true, err
	}
	s.log.WithFields(fields).Info("cascade resumed")
	return true, nil
}
