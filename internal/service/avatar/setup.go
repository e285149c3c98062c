package avatar

import (
	"github.com/zhouzirui/persona-lab/backend/internal/config"
	avatarmodel "github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

// NewFromConfig builds the streaming lifecycle and the video client sharing one HTTP client and poller.
func NewFromConfig(cfg config.AvatarConfig) (*Lifecycle, *VideoClient) {
	client := NewClient(Options{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		HTTPClient: provider.NewHTTPClient(cfg.Timeout),
		Session: avatarmodel.SessionOptions{
			AvatarID:      cfg.AvatarID,
			VoiceID:       cfg.VoiceID,
			VoiceRate:     cfg.VoiceRate,
			Quality:       cfg.Quality,
			VideoEncoding: cfg.VideoEncoding,
			Version:       cfg.Version,
		},
		TaskType: cfg.TaskType,
		TaskMode: cfg.TaskMode,
	})
	poller := NewPoller(cfg.PollInterval, cfg.MaxAttempts)
	return NewLifecycle(client, poller), NewVideoClient(client, poller)
}
