package speech

import (
	"io"
)

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // wav, mp3, webm, etc.
	Language  string    `json:"language"` // en-US, ko-KR, etc.
	Provider  string    `json:"provider,omitempty"`
	APIKey    string    `json:"-"`
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
	Voice     string `json:"voice"` // provider-specific voice id
	Provider  string `json:"provider,omitempty"`
	Language  string `json:"language"`
	APIKey    string `json:"-"`
}
