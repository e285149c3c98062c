package chat

import (
	"time"

	"github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
)

// Session captures a transient anonymous conversation.
type Session struct {
	ID        string          `json:"id"`
	PersonaID string          `json:"personaId"`
	CreatedAt time.Time       `json:"createdAt"`
	Avatar    *avatar.Session `json:"avatar,omitempty"`
}
