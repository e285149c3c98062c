package avatar

import (
	"context"
	"time"

	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 10
)

// StatusFunc performs one status query.
type StatusFunc func(ctx context.Context) (avatarmodel.TaskStatus, error)

// Poller re-queries a task until it reaches a terminal status or the attempt bound is exhausted.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	// Sleep waits between attempts; tests replace it to avoid wall-clock delay.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller applies defaults for non-positive values.
func NewPoller(interval time.Duration, maxAttempts int) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller{Interval: interval, MaxAttempts: maxAttempts, Sleep: sleepContext}
}

// Poll runs check at most MaxAttempts times, sleeping Interval between non-terminal answers.
// complete and failed are terminal; any other status keeps polling. A query error or an empty
// status ends the loop as FAILED with the error. Exhausting the bound yields TIMED_OUT.
func (p *Poller) Poll(ctx context.Context, check StatusFunc) (avatarmodel.Outcome, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var outcome avatarmodel.Outcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := check(ctx)
		outcome.Attempts = attempt
		if err != nil {
			outcome.State = avatarmodel.StateFailed
			return outcome, err
		}
		if status == "" {
			outcome.State = avatarmodel.StateFailed
			return outcome, ErrMissingStatus
		}
		outcome.LastStatus = status

		switch status {
		case avatarmodel.TaskComplete:
			outcome.State = avatarmodel.StateComplete
			return outcome, nil
		case avatarmodel.TaskFailed:
			outcome.State = avatarmodel.StateFailed
			return outcome, nil
		}

		if attempt < maxAttempts {
			if err := sleep(ctx, p.Interval); err != nil {
				outcome.State = avatarmodel.StateFailed
				return outcome, err
			}
		}
	}

	outcome.State = avatarmodel.StateTimedOut
	return outcome, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
