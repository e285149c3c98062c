package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-lab/backend/internal/config"
	"github.com/zhouzirui/persona-lab/backend/internal/model/chat"
	"github.com/zhouzirui/persona-lab/backend/internal/model/persona"
)

type recordingModel struct {
	input []*schema.Message
	reply string
	err   error
}

func (m *recordingModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *recordingModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.input = input
	if m.err != nil {
		return nil, m.err
	}
	words := strings.Fields(m.reply)
	chunks := make([]*schema.Message, 0, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		chunks = append(chunks, schema.AssistantMessage(w, nil))
	}
	return schema.StreamReaderFromArray(chunks), nil
}

func testPersona() *persona.Persona {
	return &persona.Persona{
		ID:              "einstein",
		Name:            "AI Einstein",
		Context:         "You are AI Einstein.",
		Acknowledgement: "Ready!",
	}
}

func TestGenerateResponseBuildsConversation(t *testing.T) {
	fake := &recordingModel{reply: "Gravity pulls!"}
	svc, err := NewServiceWithModel(context.Background(), fake, config.AIConfig{HistoryLimit: 2})
	require.NoError(t, err)

	history := []chat.Message{
		{Role: chat.RoleAssistant, Content: "Greetings!"},
		{Role: chat.RoleUser, Content: "first"},
		{Role: chat.RoleAssistant, Content: "answer"},
	}

	resp, err := svc.GenerateResponse(context.Background(), "s1", testPersona(), history, "what is gravity?")
	require.NoError(t, err)
	assert.Equal(t, "Gravity pulls!", resp.Content)

	require.Len(t, fake.input, 5)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.True(t, strings.HasPrefix(fake.input[0].Content, "You are AI Einstein."))
	assert.Equal(t, "Ready!", fake.input[1].Content)
	assert.Equal(t, "first", fake.input[2].Content)
	assert.Equal(t, "answer", fake.input[3].Content)
	assert.Equal(t, schema.User, fake.input[4].Role)
	assert.Equal(t, "what is gravity?", fake.input[4].Content)
}

func TestGenerateResponseError(t *testing.T) {
	fake := &recordingModel{err: errors.New("quota")}
	svc, err := NewServiceWithModel(context.Background(), fake, config.AIConfig{})
	require.NoError(t, err)

	_, err = svc.GenerateResponse(context.Background(), "s1", testPersona(), nil, "hi")
	assert.ErrorContains(t, err, "quota")
}

func TestGenerateResponseEmptyReply(t *testing.T) {
	fake := &recordingModel{reply: "   "}
	svc, err := NewServiceWithModel(context.Background(), fake, config.AIConfig{})
	require.NoError(t, err)

	_, err = svc.GenerateResponse(context.Background(), "s1", testPersona(), nil, "hi")
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestStreamResponse(t *testing.T) {
	fake := &recordingModel{reply: "light bends near mass"}
	svc, err := NewServiceWithModel(context.Background(), fake, config.AIConfig{StreamResponse: true})
	require.NoError(t, err)

	stream, err := svc.StreamResponse(context.Background(), testPersona(), nil, "tell me")
	require.NoError(t, err)
	defer stream.Close()

	var b strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b.WriteString(chunk.Content)
	}
	assert.Equal(t, "light bends near mass", b.String())

	svc.cfg.StreamResponse = false
	_, err = svc.StreamResponse(context.Background(), testPersona(), nil, "tell me")
	assert.Error(t, err)
}

func TestBuildSystemPrompt(t *testing.T) {
	pm := NewPersonaPromptManager()

	prompt := pm.BuildSystemPrompt(&persona.Persona{ID: "mona-lisa", Context: "You are AI Mona Lisa.", ImageEnabled: true})
	assert.Contains(t, prompt, "You are AI Mona Lisa.")
	assert.Contains(t, prompt, "Reflect any art style the user names")
	assert.Contains(t, prompt, "the image is produced separately")

	basic := pm.BuildSystemPrompt(&persona.Persona{ID: "curie", Name: "Marie Curie", Title: "physicist", Domain: "radioactivity"})
	assert.Contains(t, basic, "You are Marie Curie, physicist.")
	assert.NotContains(t, basic, "Artwork")
}

type fakeCompleter struct {
	body azopenai.ChatCompletionsOptions
	resp azopenai.GetChatCompletionsResponse
	err  error
}

func (f *fakeCompleter) GetChatCompletions(ctx context.Context, body azopenai.ChatCompletionsOptions, _ *azopenai.GetChatCompletionsOptions) (azopenai.GetChatCompletionsResponse, error) {
	f.body = body
	return f.resp, f.err
}

func TestAzureChatModelGenerate(t *testing.T) {
	completer := &fakeCompleter{}
	completer.resp.Choices = []azopenai.ChatChoice{{Message: &azopenai.ChatResponseMessage{Content: to.Ptr("Ciao")}}}

	m := NewAzureChatModelWithClient(completer, "gpt-4o", model.Options{MaxTokens: to.Ptr(256)})
	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("sys"),
		schema.AssistantMessage("ack", nil),
		schema.UserMessage("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ciao", msg.Content)
	assert.Equal(t, schema.Assistant, msg.Role)

	require.Len(t, completer.body.Messages, 3)
	assert.IsType(t, &azopenai.ChatRequestSystemMessage{}, completer.body.Messages[0])
	assert.IsType(t, &azopenai.ChatRequestAssistantMessage{}, completer.body.Messages[1])
	assert.IsType(t, &azopenai.ChatRequestUserMessage{}, completer.body.Messages[2])
	assert.Equal(t, "gpt-4o", *completer.body.DeploymentName)
	assert.EqualValues(t, 256, *completer.body.MaxTokens)
}

func TestAzureChatModelErrors(t *testing.T) {
	m := NewAzureChatModelWithClient(&fakeCompleter{err: fmt.Errorf("401")}, "gpt-4o", model.Options{})
	_, err := m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorContains(t, err, "401")

	m = NewAzureChatModelWithClient(&fakeCompleter{}, "gpt-4o", model.Options{})
	_, err = m.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorContains(t, err, "empty response")
}
