package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/service/conversation"
)

type fakeTurns struct {
	mu     sync.Mutex
	texts  []conversation.TurnInput
	voices []conversation.VoiceInput
	delay  time.Duration
}

func (f *fakeTurns) Reply(_ context.Context, in conversation.TurnInput) (*conversation.TurnOutput, error) {
	f.mu.Lock()
	f.texts = append(f.texts, in)
	f.mu.Unlock()
	time.Sleep(f.delay)
	return &conversation.TurnOutput{
		SessionID:  in.SessionID,
		Understood: true,
		Reply:      &chat.Message{ID: "m1", Content: "reply to " + in.Message, Audio: []byte("mp3"), AudioFormat: "mp3"},
		AudioBy:    "elevenlabs",
	}, nil
}

func (f *fakeTurns) VoiceReply(_ context.Context, in conversation.VoiceInput) (*conversation.TurnOutput, error) {
	f.mu.Lock()
	f.voices = append(f.voices, in)
	f.mu.Unlock()
	return &conversation.TurnOutput{SessionID: in.SessionID, Transcript: "Could not understand audio"}, nil
}

func dial(t *testing.T, turns *fakeTurns, opts ...func(*WebSocketHandler)) (*websocket.Conn, string) {
	t.Helper()
	chatSvc := chatservice.NewService()
	session, err := chatSvc.CreateSession(context.Background(), "einstein")
	require.NoError(t, err)

	r := chi.NewRouter()
	h := NewWebSocketHandler(turns, chatSvc, "en-US")
	for _, opt := range opts {
		opt(h)
	}
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/voice/ws/" + session.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello outgoingMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "connected", hello.Type)
	return conn, session.ID
}

func readTypes(t *testing.T, conn *websocket.Conn, n int) []string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	types := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var msg outgoingMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
	}
	return types
}

func TestWebSocketTextTurn(t *testing.T) {
	turns := &fakeTurns{}
	conn, sessionID := dial(t, turns)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "config",
		"data": map[string]any{"ttsProvider": "google", "apiKeys": map[string]string{"google": "k"}},
	}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "hi"}}))

	assert.Equal(t, []string{"config", "reply", "audio"}, readTypes(t, conn, 3))

	turns.mu.Lock()
	defer turns.mu.Unlock()
	require.Len(t, turns.texts, 1)
	assert.Equal(t, sessionID, turns.texts[0].SessionID)
	assert.Equal(t, "google", turns.texts[0].TTSProvider)
	assert.Equal(t, "k", turns.texts[0].Keys["google"])
	assert.Equal(t, "en-US", turns.texts[0].Language)
}

func TestWebSocketTurnLongerThanReadTimeout(t *testing.T) {
	turns := &fakeTurns{delay: 300 * time.Millisecond}
	conn, _ := dial(t, turns, func(h *WebSocketHandler) { h.readTimeout = 150 * time.Millisecond })

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "first"}}))
	assert.Equal(t, []string{"reply", "audio"}, readTypes(t, conn, 2))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "text", "data": map[string]string{"text": "second"}}))
	assert.Equal(t, []string{"reply", "audio"}, readTypes(t, conn, 2))

	turns.mu.Lock()
	defer turns.mu.Unlock()
	assert.Len(t, turns.texts, 2)
}

func TestWebSocketAudioBuffersUntilFinal(t *testing.T) {
	turns := &fakeTurns{}
	conn, _ := dial(t, turns)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "audio", "data": map[string]any{"audioData": []byte("RI"), "format": "webm"}}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "audio", "data": map[string]any{"audioData": []byte("FF"), "isFinal": true}}))

	assert.Equal(t, []string{"transcript"}, readTypes(t, conn, 1))

	turns.mu.Lock()
	defer turns.mu.Unlock()
	require.Len(t, turns.voices, 1)
	assert.Equal(t, []byte("RIFF"), turns.voices[0].Audio)
	assert.Equal(t, "webm", turns.voices[0].AudioFormat)
}

func TestWebSocketUnknownType(t *testing.T) {
	conn, _ := dial(t, &fakeTurns{})
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	assert.Equal(t, []string{"error"}, readTypes(t, conn, 1))
}

func TestWebSocketUnknownSession(t *testing.T) {
	r := chi.NewRouter()
	NewWebSocketHandler(&fakeTurns{}, chatservice.NewService(), "en-US").RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet, "/voice/ws/missing", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplyConfigMergesKeys(t *testing.T) {
	off := false
	state := newConnectionState("s", "en-US")
	state.applyConfig(ConfigMessage{Language: "ko-KR", TTSEnabled: &off, APIKeys: map[string]string{"dalle": "a"}})
	state.applyConfig(ConfigMessage{APIKeys: map[string]string{"heygen": "b"}})

	in := state.turnInput("hello")
	assert.Equal(t, "ko-KR", in.Language)
	assert.True(t, in.SkipAudio)
	assert.False(t, in.SkipAvatar)
	assert.Equal(t, map[string]string{"dalle": "a", "heygen": "b"}, in.Keys)
}
