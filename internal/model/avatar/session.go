package avatar

import "time"

// State 远程数字人会话的生命周期状态。
type State string

const (
	StateCreated       State = "CREATED"
	StateStarted       State = "STARTED"
	StateTaskSubmitted State = "TASK_SUBMITTED"
	StateComplete      State = "COMPLETE"
	StateFailed        State = "FAILED"
	StateTimedOut      State = "TIMED_OUT"
	StateStopped       State = "STOPPED"
)

// Terminal reports whether a task has reached an end state.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateTimedOut
}

// 任务结束后会话仍可接收下一条任务，直到被 stop。
var transitions = map[State][]State{
	StateCreated:       {StateStarted, StateStopped},
	StateStarted:       {StateTaskSubmitted, StateStopped},
	StateTaskSubmitted: {StateComplete, StateFailed, StateTimedOut, StateStopped},
	StateComplete:      {StateTaskSubmitted, StateStopped},
	StateFailed:        {StateTaskSubmitted, StateStopped},
	StateTimedOut:      {StateTaskSubmitted, StateStopped},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is a remote streaming handle: id plus the token/URL pair the viewer connects with.
type Session struct {
	ID          string    `json:"sessionId"`
	AccessToken string    `json:"accessToken"`
	URL         string    `json:"url"`
	State       State     `json:"state"`
	LastTaskID  string    `json:"lastTaskId,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Active reports whether the session can accept text tasks.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	return s.State == StateStarted || s.State.Terminal()
}

// Held reports whether the remote session has not been released yet, including while a task is in flight.
func (s *Session) Held() bool {
	return s != nil && s.State != "" && s.State != StateStopped
}

// Task 一次提交给数字人朗读的文本任务。
type Task struct {
	ID         string `json:"taskId"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// TaskStatus is the raw status string reported by the remote service.
type TaskStatus string

const (
	TaskProcessing TaskStatus = "processing"
	TaskComplete   TaskStatus = "complete"
	TaskFailed     TaskStatus = "failed"
)

// Outcome summarises a finished poll.
type Outcome struct {
	TaskID     string     `json:"taskId"`
	State      State      `json:"state"`
	Attempts   int        `json:"attempts"`
	LastStatus TaskStatus `json:"lastStatus,omitempty"`
	DurationMS int64      `json:"durationMs,omitempty"`
}

// Succeeded reports whether the task completed.
func (o Outcome) Succeeded() bool {
	return o.State == StateComplete
}

// SessionOptions configure streaming.new.
type SessionOptions struct {
	AvatarID      string  `json:"avatarId"`
	VoiceID       string  `json:"voiceId"`
	VoiceRate     float64 `json:"voiceRate"`
	Quality       string  `json:"quality"`
	VideoEncoding string  `json:"videoEncoding"`
	Version       string  `json:"version"`
}

// VideoRequest describes a pre-rendered avatar video.
type VideoRequest struct {
	AvatarID   string  `json:"avatarId"`
	VoiceID    string  `json:"voiceId"`
	Text       string  `json:"text"`
	Title      string  `json:"title,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	Background string  `json:"background,omitempty"` // hex colour
}

// Video 离线渲染视频的状态快照。
type Video struct {
	ID           string  `json:"videoId"`
	Status       string  `json:"status"`
	VideoURL     string  `json:"videoUrl,omitempty"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
	GIFURL       string  `json:"gifUrl,omitempty"`
	Duration     float64 `json:"duration,omitempty"`
	Error        string  `json:"error,omitempty"`
}
