package avatar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

var (
	// ErrInvalidTransition 当前状态不允许该操作。
	ErrInvalidTransition = errors.New("invalid avatar state transition")
	// ErrEmptyText 提交给数字人的文本为空。
	ErrEmptyText = errors.New("avatar task text is empty")
)

// Lifecycle drives one remote session through create, start, task and stop.
// It mutates the *avatarmodel.Session it is given; callers persist the result.
type Lifecycle struct {
	client *Client
	poller *Poller
}

// NewLifecycle wires a client and poller.
func NewLifecycle(client *Client, poller *Poller) *Lifecycle {
	if poller == nil {
		poller = NewPoller(0, 0)
	}
	return &Lifecycle{client: client, poller: poller}
}

// Client exposes the underlying streaming client.
func (l *Lifecycle) Client() *Client {
	return l.client
}

// Open creates and starts a session. When start is not acknowledged the session is stopped
// best-effort and returned in STOPPED state together with the start error.
func (l *Lifecycle) Open(ctx context.Context, apiKey string, opts avatarmodel.SessionOptions) (*avatarmodel.Session, error) {
	session, err := l.client.CreateSession(ctx, apiKey, opts)
	if err != nil {
		return nil, fmt.Errorf("create avatar session: %w", err)
	}

	if err := l.client.StartSession(ctx, apiKey, session.ID); err != nil {
		if stopErr := l.client.StopSession(ctx, apiKey, session.ID); stopErr != nil {
			logger.Warn("[avatar] cleanup after failed start", zap.String("remote_session", session.ID), zap.Error(stopErr))
		}
		l.transition(session, avatarmodel.StateStopped)
		return session, fmt.Errorf("start avatar session: %w", err)
	}

	l.transition(session, avatarmodel.StateStarted)
	return session, nil
}

// Speak submits text and polls the task to a terminal state.
// A rejected submission leaves the session state unchanged.
func (l *Lifecycle) Speak(ctx context.Context, apiKey string, session *avatarmodel.Session, text string) (avatarmodel.Outcome, error) {
	if session == nil || !avatarmodel.CanTransition(session.State, avatarmodel.StateTaskSubmitted) {
		state := avatarmodel.State("")
		if session != nil {
			state = session.State
		}
		return avatarmodel.Outcome{}, fmt.Errorf("%w: cannot submit task from %q", ErrInvalidTransition, state)
	}
	if strings.TrimSpace(text) == "" {
		return avatarmodel.Outcome{}, ErrEmptyText
	}

	task, err := l.client.SubmitTask(ctx, apiKey, session.ID, text)
	if err != nil {
		return avatarmodel.Outcome{}, fmt.Errorf("submit avatar task: %w", err)
	}
	session.LastTaskID = task.ID
	l.transition(session, avatarmodel.StateTaskSubmitted)

	outcome, err := l.poller.Poll(ctx, func(ctx context.Context) (avatarmodel.TaskStatus, error) {
		return l.client.TaskStatus(ctx, apiKey, session.ID, task.ID)
	})
	outcome.TaskID = task.ID
	outcome.DurationMS = task.DurationMS
	l.transition(session, outcome.State)

	logger.Info("[avatar] task finished",
		zap.String("remote_session", session.ID),
		zap.String("task", task.ID),
		zap.String("state", string(outcome.State)),
		zap.Int("attempts", outcome.Attempts))

	if err != nil {
		return outcome, fmt.Errorf("poll avatar task: %w", err)
	}
	return outcome, nil
}

// Close stops the session. It is idempotent: a STOPPED session is not stopped again.
// The session ends in STOPPED even when the remote call fails; that error is returned.
func (l *Lifecycle) Close(ctx context.Context, apiKey string, session *avatarmodel.Session) error {
	if session == nil || session.State == avatarmodel.StateStopped {
		return nil
	}

	err := l.client.StopSession(ctx, apiKey, session.ID)
	session.State = avatarmodel.StateStopped
	session.UpdatedAt = time.Now().UTC()
	if err != nil {
		logger.Warn("[avatar] stop failed", zap.String("remote_session", session.ID), zap.Error(err))
		return fmt.Errorf("stop avatar session: %w", err)
	}
	return nil
}

func (l *Lifecycle) transition(session *avatarmodel.Session, next avatarmodel.State) {
	if !avatarmodel.CanTransition(session.State, next) {
		logger.Warn("[avatar] unexpected transition",
			zap.String("remote_session", session.ID),
			zap.String("from", string(session.State)),
			zap.String("to", string(next)))
	}
	session.State = next
	session.UpdatedAt = time.Now().UTC()
}
