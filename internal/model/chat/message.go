package chat

import "time"

// Role 标识消息发送方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message persists individual turns for the lifetime of a session.
type Message struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Audio       []byte    `json:"audio,omitempty"`
	AudioFormat string    `json:"audioFormat,omitempty"`
	Image       []byte    `json:"image,omitempty"`
	ImageFormat string    `json:"imageFormat,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
