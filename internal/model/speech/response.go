package speech

import "time"

// Recognition sentinels. They are returned as transcript text, not as errors.
const (
	NotUnderstood      = "Could not understand audio"
	ServiceUnavailable = "Error connecting to Google Speech Recognition service"
	RecognitionFailed  = "Error with speech recognition service"
	ProcessingFailed   = "Error processing audio"
)

// IsSentinel reports whether text is one of the recognition sentinels.
func IsSentinel(text string) bool {
	switch text {
	case NotUnderstood, ServiceUnavailable, RecognitionFailed, ProcessingFailed:
		return true
	}
	return false
}

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	Understood bool      `json:"understood"`
	Provider   string    `json:"provider"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
}
