package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
	aiService "github.com/zhouzirui/persona-lab/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/persona-lab/backend/internal/service/chat"
)

type fakeLLM struct {
	streaming bool
	chunks    []string
	err       error
	history   []chat.Message
}

func (f *fakeLLM) StreamingEnabled() bool { return f.streaming }

func (f *fakeLLM) GenerateResponse(_ context.Context, _ string, _ *persona.Persona, history []chat.Message, _ string) (*schema.Message, error) {
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(strings.Join(f.chunks, ""), nil), nil
}

func (f *fakeLLM) StreamResponse(_ context.Context, _ *persona.Persona, history []chat.Message, _ string) (*schema.StreamReader[*schema.Message], error) {
	f.history = history
	if f.err != nil {
		return nil, f.err
	}
	msgs := make([]*schema.Message, 0, len(f.chunks))
	for _, c := range f.chunks {
		msgs = append(msgs, schema.AssistantMessage(c, nil))
	}
	return schema.StreamReaderFromArray(msgs), nil
}

func setup(t *testing.T, llm *fakeLLM) (*chi.Mux, *chatservice.Service, string) {
	t.Helper()
	chatSvc := chatservice.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	session, err := chatSvc.CreateSession(context.Background(), "einstein")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	r := chi.NewRouter()
	New(llm, chatSvc, store).RegisterRoutes(r)
	return r, chatSvc, session.ID
}

func TestGetSessionPersonaReturnsBoundPersona(t *testing.T) {
	chatSvc := chatservice.NewService()
	store := persona.NewMemoryStore(persona.Seed())
	handler := New(nil, chatSvc, store)

	ctx := context.Background()
	session, err := chatSvc.CreateSession(ctx, "mona-lisa")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	_, gotPersona, err := handler.getSessionPersona(ctx, session.ID)
	if err != nil {
		t.Fatalf("getSessionPersona err: %v", err)
	}

	if gotPersona.ID != "mona-lisa" {
		t.Fatalf("expected persona mona-lisa, got %s", gotPersona.ID)
	}
}

func TestGetSessionPersonaMissingPersona(t *testing.T) {
	chatSvc := chatservice.NewService()
	store := persona.NewMemoryStore(nil)
	handler := New(nil, chatSvc, store)

	ctx := context.Background()
	session, err := chatSvc.CreateSession(ctx, "unknown")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if _, _, err := handler.getSessionPersona(ctx, session.ID); err == nil {
		t.Fatal("expected error when persona not found")
	}
}

func TestStreamDeltasAndPersistsReply(t *testing.T) {
	llm := &fakeLLM{streaming: true, chunks: []string{"Hello ", "young ", "scientist!"}}
	r, chatSvc, sessionID := setup(t, llm)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/"+sessionID+"?message=hi", nil))

	body := rr.Body.String()
	if got := strings.Count(body, `"event":"delta"`); got != 3 {
		t.Fatalf("expected 3 deltas, got %d in %s", got, body)
	}
	if !strings.Contains(body, `"content":"Hello young scientist!"`) || !strings.Contains(body, `"event":"end"`) {
		t.Fatalf("missing final message: %s", body)
	}

	messages, _ := chatSvc.LoadTranscript(context.Background(), sessionID)
	if len(messages) != 2 || messages[1].Role != chat.RoleAssistant {
		t.Fatalf("unexpected transcript %+v", messages)
	}
}

func TestStreamSkipsDuplicateUserMessage(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"ok"}}
	r, chatSvc, sessionID := setup(t, llm)
	if _, err := chatSvc.SaveMessage(context.Background(), chat.Message{SessionID: sessionID, Role: chat.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/"+sessionID+"?message=hi", nil))

	if len(llm.history) != 0 {
		t.Fatalf("history should exclude the pending user message, got %d", len(llm.history))
	}
	messages, _ := chatSvc.LoadTranscript(context.Background(), sessionID)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
}

func TestStreamFallsBackToApology(t *testing.T) {
	r, _, sessionID := setup(t, &fakeLLM{err: errors.New("quota")})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/"+sessionID+"?message=hi", nil))

	body := rr.Body.String()
	if !strings.Contains(body, `"event":"error"`) || !strings.Contains(body, aiService.ApologyReply) {
		t.Fatalf("expected error and apology, got %s", body)
	}
}

func TestStreamValidation(t *testing.T) {
	r, _, sessionID := setup(t, &fakeLLM{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/"+sessionID, nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stream/missing?message=hi", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
