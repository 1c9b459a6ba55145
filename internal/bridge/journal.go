package bridge

import (
	"context"
	"time"
)

// Journal records session history. Implementations must not block for long;
// they are called with the start/stop gate held.
type Journal interface {
	SessionStarted(ctx context.Context, s Session) error
	SessionEnded(ctx context.Context, s Session, reason string, endedAt time.Time) error
	StartFailed(ctx context.Context, machine string, cause error, elapsed time.Duration) error
}

type nopJournal struct{}

func (nopJournal) SessionStarted(context.Context, Session) error                  { return nil }
func (nopJournal) SessionEnded(context.Context, Session, string, time.Time) error { return nil }
func (nopJournal) StartFailed(context.Context, string, error, time.Duration) error {
	return nil
}
