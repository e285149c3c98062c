package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/persona-lab/backend/internal/model/avatar"
	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
)

var (
	ErrPersonaRequired = errors.New("persona id is required")
	ErrSessionNotFound = errors.New("session not found")
	// ErrAvatarReleased 数字人会话在任务进行中已被停止或替换。
	ErrAvatarReleased = errors.New("avatar session released")
)

// Service encapsulates conversation state management.
// Transcripts and avatar handles live only in memory for the lifetime of the process.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	avatars  map[string]avatar.Session
	messages map[string][]chat.Message
}

// NewService bootstraps the in-memory chat service.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]chat.Session),
		avatars:  make(map[string]avatar.Session),
		messages: make(map[string][]chat.Message),
	}
}

// CreateSession provisions an anonymous session bound to a persona.
// A non-empty greeting is stored as the first assistant message.
func (s *Service) CreateSession(_ context.Context, personaID string, greeting ...string) (chat.Session, error) {
	if personaID == "" {
		return chat.Session{}, ErrPersonaRequired
	}

	now := time.Now().UTC()
	session := chat.Session{
		ID:        uuid.NewString(),
		PersonaID: personaID,
		CreatedAt: now,
	}

	history := make([]chat.Message, 0, 16)
	for _, text := range greeting {
		if text == "" {
			continue
		}
		history = append(history, chat.Message{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      chat.RoleAssistant,
			Content:   text,
			CreatedAt: now,
		})
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.messages[session.ID] = history
	s.mu.Unlock()

	return session, nil
}

// SaveMessage appends a message to the session history.
func (s *Service) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return message, nil
}

// GetSession retrieves a session by identifier. The avatar handle, if any, is a snapshot copy.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	if av, ok := s.avatars[sessionID]; ok {
		session.Avatar = &av
	}
	return session, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// ResetTranscript clears the history, keeping the session and its avatar handle.
func (s *Service) ResetTranscript(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.messages[sessionID] = make([]chat.Message, 0, 16)
	return nil
}

// AttachAvatar stores (or replaces) the remote avatar handle for the session.
func (s *Service) AttachAvatar(_ context.Context, sessionID string, av avatar.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.avatars[sessionID] = av
	return nil
}

// UpdateAvatar stores a newer snapshot of the attached avatar. It refuses with ErrAvatarReleased when the
// handle was detached, replaced by another remote session, or already stopped meanwhile.
func (s *Service) UpdateAvatar(_ context.Context, sessionID string, av avatar.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	stored, ok := s.avatars[sessionID]
	if !ok || stored.ID != av.ID || stored.State == avatar.StateStopped {
		return ErrAvatarReleased
	}
	s.avatars[sessionID] = av
	return nil
}

// DetachAvatar forgets the avatar handle and returns the last stored snapshot.
func (s *Service) DetachAvatar(_ context.Context, sessionID string) (*avatar.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	av, ok := s.avatars[sessionID]
	if !ok {
		return nil, nil
	}
	delete(s.avatars, sessionID)
	return &av, nil
}
