package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

// ErrVideoRejected v2/video/generate 未返回 video_id。
var ErrVideoRejected = errors.New("avatar video request rejected")

// VideoClient renders non-streaming avatar videos and tracks their status.
type VideoClient struct {
	*Client
	poller *Poller
}

// NewVideoClient shares the streaming client's key, base URL and HTTP client.
func NewVideoClient(client *Client, poller *Poller) *VideoClient {
	if poller == nil {
		poller = NewPoller(0, 0)
	}
	return &VideoClient{Client: client, poller: poller}
}

type videoCharacter struct {
	Type        string  `json:"type"`
	AvatarID    string  `json:"avatar_id"`
	Scale       float64 `json:"scale"`
	AvatarStyle string  `json:"avatar_style"`
}

type videoVoice struct {
	Type      string  `json:"type"`
	VoiceID   string  `json:"voice_id"`
	InputText string  `json:"input_text"`
	Speed     float64 `json:"speed"`
}

type videoBackground struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type videoInput struct {
	Character  videoCharacter  `json:"character"`
	Voice      videoVoice      `json:"voice"`
	Background videoBackground `json:"background"`
}

type videoGenerateRequest struct {
	Caption   bool   `json:"caption"`
	Title     string `json:"title,omitempty"`
	Dimension struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"dimension"`
	VideoInputs []videoInput `json:"video_inputs"`
}

type videoGenerateResponse struct {
	Error json.RawMessage `json:"error"`
	Data  struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

// Generate submits a v2 video job and returns its id.
func (v *VideoClient) Generate(ctx context.Context, apiKey string, req avatarmodel.VideoRequest) (string, error) {
	key, err := provider.RequireKey("HeyGen", "HEYGEN_API_KEY", apiKey, v.apiKey)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyText
	}

	defaults := v.DefaultSessionOptions()
	var payload videoGenerateRequest
	payload.Title = req.Title
	payload.Dimension.Width = orInt(req.Width, 1280)
	payload.Dimension.Height = orInt(req.Height, 720)
	payload.VideoInputs = []videoInput{{
		Character: videoCharacter{
			Type:        "avatar",
			AvatarID:    orString(req.AvatarID, defaults.AvatarID),
			Scale:       1.0,
			AvatarStyle: "normal",
		},
		Voice: videoVoice{
			Type:      "text",
			VoiceID:   orString(req.VoiceID, defaults.VoiceID),
			InputText: req.Text,
			Speed:     orFloat(req.Speed, 1.0),
		},
		Background: videoBackground{Type: "color", Value: orString(req.Background, "#f6f6fc")},
	}}

	var out videoGenerateResponse
	_, err = provider.PostJSON(ctx, v.http, providerName, v.baseURL+"/v2/video/generate", map[string]string{
		"accept":    "application/json",
		"x-api-key": key,
	}, payload, &out)
	if err != nil {
		return "", err
	}
	if out.Data.VideoID == "" {
		return "", fmt.Errorf("%w: %s", ErrVideoRejected, rawErrorString(out.Error))
	}
	return out.Data.VideoID, nil
}

type videoStatusResponse struct {
	Data struct {
		Status       string          `json:"status"`
		VideoURL     string          `json:"video_url"`
		ThumbnailURL string          `json:"thumbnail_url"`
		GIFURL       string          `json:"gif_url"`
		Duration     float64         `json:"duration"`
		Error        json.RawMessage `json:"error"`
	} `json:"data"`
}

// VideoStatus fetches one status snapshot.
func (v *VideoClient) VideoStatus(ctx context.Context, apiKey, videoID string) (*avatarmodel.Video, error) {
	key, err := provider.RequireKey("HeyGen", "HEYGEN_API_KEY", apiKey, v.apiKey)
	if err != nil {
		return nil, err
	}

	var out videoStatusResponse
	err = provider.GetJSON(ctx, v.http, providerName, v.baseURL+"/v1/video_status.get?video_id="+url.QueryEscape(videoID),
		map[string]string{"accept": "application/json", "x-api-key": key}, &out)
	if err != nil {
		return nil, err
	}

	return &avatarmodel.Video{
		ID:           videoID,
		Status:       out.Data.Status,
		VideoURL:     out.Data.VideoURL,
		ThumbnailURL: out.Data.ThumbnailURL,
		GIFURL:       out.Data.GIFURL,
		Duration:     out.Data.Duration,
		Error:        rawErrorString(out.Data.Error),
	}, nil
}

// WaitVideo polls until the video is completed or failed, reusing the task poller bounds.
func (v *VideoClient) WaitVideo(ctx context.Context, apiKey, videoID string) (*avatarmodel.Video, avatarmodel.Outcome, error) {
	var last *avatarmodel.Video
	outcome, err := v.poller.Poll(ctx, func(ctx context.Context) (avatarmodel.TaskStatus, error) {
		video, err := v.VideoStatus(ctx, apiKey, videoID)
		if err != nil {
			return "", err
		}
		last = video
		switch strings.ToLower(video.Status) {
		case "completed":
			return avatarmodel.TaskComplete, nil
		case "failed":
			return avatarmodel.TaskFailed, nil
		case "":
			return "", nil
		default:
			return avatarmodel.TaskProcessing, nil
		}
	})
	outcome.TaskID = videoID
	return last, outcome, err
}

func rawErrorString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orFloat(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
