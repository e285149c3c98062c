package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
	"github.com/zhouzirui/persona-lab/backend/pkg/logger"
)

const (
	defaultBaseURL = "https://api.heygen.com"
	providerName   = "HeyGen API"
	successCode    = 100
)

var (
	// ErrIncompleteSession streaming.new 缺少 session_id / access_token / url 之一。
	ErrIncompleteSession = errors.New("avatar session response incomplete")
	// ErrNotAcknowledged 远端未确认 start/stop。
	ErrNotAcknowledged = errors.New("avatar request not acknowledged")
	// ErrTaskRejected 远端未返回 task_id。
	ErrTaskRejected = errors.New("avatar task rejected")
	// ErrMissingStatus task_status 响应缺少 status 字段。
	ErrMissingStatus = errors.New("avatar task status missing")
)

// Options configure a Client.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Session    avatarmodel.SessionOptions
	TaskType   string // repeat | chat
	TaskMode   string // sync | async
}

// Client wraps the HeyGen v1 streaming endpoints.
type Client struct {
	apiKey   string
	baseURL  string
	http     *http.Client
	session  avatarmodel.SessionOptions
	taskType string
	taskMode string
}

// NewClient fills unset options with the streaming defaults.
func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = provider.NewHTTPClient(30 * time.Second)
	}

	session := opts.Session
	if session.Quality == "" {
		session.Quality = "medium"
	}
	if session.VideoEncoding == "" {
		session.VideoEncoding = "VP8"
	}
	if session.Version == "" {
		session.Version = "v2"
	}
	if session.VoiceRate == 0 {
		session.VoiceRate = 1
	}

	taskType := opts.TaskType
	if taskType == "" {
		taskType = "repeat"
	}
	taskMode := opts.TaskMode
	if taskMode == "" {
		taskMode = "sync"
	}

	return &Client{
		apiKey:   strings.TrimSpace(opts.APIKey),
		baseURL:  baseURL,
		http:     httpClient,
		session:  session,
		taskType: taskType,
		taskMode: taskMode,
	}
}

// Configured reports whether a default API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// DefaultSessionOptions returns the configured avatar/voice defaults.
func (c *Client) DefaultSessionOptions() avatarmodel.SessionOptions {
	return c.session
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) acknowledged() bool {
	return e.Code == successCode || strings.EqualFold(e.Message, "success")
}

func (c *Client) post(ctx context.Context, apiKey, path string, payload any) (envelope, error) {
	key, err := provider.RequireKey("HeyGen", "HEYGEN_API_KEY", apiKey, c.apiKey)
	if err != nil {
		return envelope{}, err
	}

	var out envelope
	_, err = provider.PostJSON(ctx, c.http, providerName, c.baseURL+path, map[string]string{
		"accept":    "application/json",
		"x-api-key": key,
	}, payload, &out)
	return out, err
}

type voiceSetting struct {
	VoiceID string  `json:"voice_id,omitempty"`
	Rate    float64 `json:"rate"`
}

type newSessionRequest struct {
	Quality            string       `json:"quality"`
	AvatarID           string       `json:"avatar_id,omitempty"`
	Voice              voiceSetting `json:"voice"`
	VideoEncoding      string       `json:"video_encoding"`
	DisableIdleTimeout bool         `json:"disable_idle_timeout"`
	Version            string       `json:"version"`
}

type newSessionData struct {
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	URL         string `json:"url"`
}

// CreateSession calls streaming.new. Zero-valued fields in opts fall back to the client defaults.
func (c *Client) CreateSession(ctx context.Context, apiKey string, opts avatarmodel.SessionOptions) (*avatarmodel.Session, error) {
	merged := c.mergeOptions(opts)

	resp, err := c.post(ctx, apiKey, "/v1/streaming.new", newSessionRequest{
		Quality:       merged.Quality,
		AvatarID:      merged.AvatarID,
		Voice:         voiceSetting{VoiceID: merged.VoiceID, Rate: merged.VoiceRate},
		VideoEncoding: merged.VideoEncoding,
		Version:       merged.Version,
	})
	if err != nil {
		return nil, err
	}

	var data newSessionData
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return nil, fmt.Errorf("%s: decode session: %w", providerName, err)
		}
	}
	if data.SessionID == "" || data.AccessToken == "" || data.URL == "" {
		return nil, fmt.Errorf("%w: code=%d message=%q", ErrIncompleteSession, resp.Code, resp.Message)
	}

	logger.Info("[avatar] session created", zap.String("remote_session", data.SessionID))
	return &avatarmodel.Session{
		ID:          data.SessionID,
		AccessToken: data.AccessToken,
		URL:         data.URL,
		State:       avatarmodel.StateCreated,
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// StartSession calls streaming.start.
func (c *Client) StartSession(ctx context.Context, apiKey, sessionID string) error {
	resp, err := c.post(ctx, apiKey, "/v1/streaming.start", sessionRequest{SessionID: sessionID})
	if err != nil {
		return err
	}
	if !resp.acknowledged() {
		return fmt.Errorf("%w: start code=%d message=%q", ErrNotAcknowledged, resp.Code, resp.Message)
	}
	return nil
}

type taskRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	TaskType  string `json:"task_type"`
	TaskMode  string `json:"task_mode"`
}

type taskData struct {
	TaskID     string  `json:"task_id"`
	DurationMS float64 `json:"duration_ms"`
}

// SubmitTask calls streaming.task with the configured task type and mode.
func (c *Client) SubmitTask(ctx context.Context, apiKey, sessionID, text string) (*avatarmodel.Task, error) {
	resp, err := c.post(ctx, apiKey, "/v1/streaming.task", taskRequest{
		SessionID: sessionID,
		Text:      text,
		TaskType:  c.taskType,
		TaskMode:  c.taskMode,
	})
	if err != nil {
		return nil, err
	}

	var data taskData
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	if resp.Code != successCode || data.TaskID == "" {
		return nil, fmt.Errorf("%w: code=%d message=%q", ErrTaskRejected, resp.Code, resp.Message)
	}

	return &avatarmodel.Task{ID: data.TaskID, DurationMS: int64(data.DurationMS)}, nil
}

type taskStatusRequest struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
}

// TaskStatus calls streaming.task_status once.
func (c *Client) TaskStatus(ctx context.Context, apiKey, sessionID, taskID string) (avatarmodel.TaskStatus, error) {
	resp, err := c.post(ctx, apiKey, "/v1/streaming.task_status", taskStatusRequest{SessionID: sessionID, TaskID: taskID})
	if err != nil {
		return "", err
	}

	var data struct {
		Status string `json:"status"`
	}
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &data)
	}
	if data.Status == "" {
		return "", ErrMissingStatus
	}
	return avatarmodel.TaskStatus(strings.ToLower(data.Status)), nil
}

// StopSession calls streaming.stop.
func (c *Client) StopSession(ctx context.Context, apiKey, sessionID string) error {
	resp, err := c.post(ctx, apiKey, "/v1/streaming.stop", sessionRequest{SessionID: sessionID})
	if err != nil {
		return err
	}
	if !resp.acknowledged() {
		return fmt.Errorf("%w: stop code=%d message=%q", ErrNotAcknowledged, resp.Code, resp.Message)
	}
	return nil
}

func (c *Client) mergeOptions(opts avatarmodel.SessionOptions) avatarmodel.SessionOptions {
	merged := c.session
	if opts.AvatarID != "" {
		merged.AvatarID = opts.AvatarID
	}
	if opts.VoiceID != "" {
		merged.VoiceID = opts.VoiceID
	}
	if opts.VoiceRate != 0 {
		merged.VoiceRate = opts.VoiceRate
	}
	if opts.Quality != "" {
		merged.Quality = opts.Quality
	}
	if opts.VideoEncoding != "" {
		merged.VideoEncoding = opts.VideoEncoding
	}
	if opts.Version != "" {
		merged.Version = opts.Version
	}
	return merged
}
