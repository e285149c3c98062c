package image

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/persona-lab/backend/internal/service/provider"
)

func TestDalleGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body dalleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, dalleRequest{Prompt: "a cat", N: 1, Size: "1024x1024", ResponseFormat: "b64_json"}, body)

		_, _ = w.Write([]byte(`{"data":[{"b64_json":"` + provider.EncodeBase64([]byte("png")) + `"}]}`))
	}))
	defer server.Close()

	img, err := NewDalleGenerator(Endpoint{APIKey: "key", BaseURL: server.URL}).Generate(context.Background(), "a cat", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)
}

func TestStabilityGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generation/stable-diffusion-xl-1024-v1-0/text-to-image", r.URL.Path)

		var body stabilityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.TextPrompts, 1)
		assert.Equal(t, 1.0, body.TextPrompts[0].Weight)
		assert.Equal(t, 7, body.CfgScale)
		assert.Equal(t, 30, body.Steps)

		_, _ = w.Write([]byte(`{"artifacts":[{"base64":"` + provider.EncodeBase64([]byte("sdxl")) + `","finishReason":"SUCCESS"}]}`))
	}))
	defer server.Close()

	img, err := NewStabilityGenerator(Endpoint{BaseURL: server.URL}).Generate(context.Background(), "a cat", "override")
	require.NoError(t, err)
	assert.Equal(t, []byte("sdxl"), img)
}

type fakeInvoker struct {
	body  []byte
	err   error
	input *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoker) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func TestBedrockGenerate(t *testing.T) {
	invoker := &fakeInvoker{body: []byte(`{"images":["` + provider.EncodeBase64([]byte("titan")) + `"]}`)}
	gen := NewBedrockGenerator(invoker, "")

	img, err := gen.Generate(context.Background(), "a cat", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("titan"), img)
	assert.Equal(t, DefaultBedrockModel, *invoker.input.ModelId)

	var sent titanRequest
	require.NoError(t, json.Unmarshal(invoker.input.Body, &sent))
	assert.Equal(t, "TEXT_IMAGE", sent.TaskType)
	assert.Equal(t, "a cat", sent.TextToImageParams.Text)
}

func TestBedrockGenerateError(t *testing.T) {
	gen := NewBedrockGenerator(&fakeInvoker{body: []byte(`{"error":"content filtered"}`)}, "")
	_, err := gen.Generate(context.Background(), "a cat", "")
	assert.ErrorContains(t, err, "content filtered")

	_, err = NewBedrockGenerator(nil, "").Generate(context.Background(), "a cat", "")
	assert.ErrorIs(t, err, provider.ErrMissingCredential)
}

type fakeGenerator struct {
	name       string
	configured bool
	verifyErr  error
	genErr     error
	calls      int32
	verified   int32
}

func (f *fakeGenerator) Name() string     { return f.name }
func (f *fakeGenerator) Configured() bool { return f.configured }

func (f *fakeGenerator) Generate(ctx context.Context, prompt, apiKey string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.genErr != nil {
		return nil, f.genErr
	}
	return []byte(f.name), nil
}

type verifyingGenerator struct{ *fakeGenerator }

func (v verifyingGenerator) Verify(ctx context.Context, apiKey string) error {
	atomic.AddInt32(&v.verified, 1)
	return v.verifyErr
}

func TestServiceFallsBackInOrder(t *testing.T) {
	dalle := &fakeGenerator{name: ProviderDalle, configured: true, verifyErr: errors.New("invalid key")}
	stability := &fakeGenerator{name: ProviderStability, configured: true}
	bedrock := &fakeGenerator{name: ProviderBedrock, configured: true}

	svc := NewService([]string{"dalle", "stability", "bedrock"}, verifyingGenerator{dalle}, verifyingGenerator{stability}, bedrock)

	res, err := svc.Generate(context.Background(), "a cat", nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderStability, res.Provider)
	assert.EqualValues(t, 1, dalle.verified)
	assert.EqualValues(t, 0, dalle.calls)
	assert.EqualValues(t, 1, stability.calls)
	assert.EqualValues(t, 0, bedrock.calls)
}

func TestServiceSkipsUnconfiguredUnlessOverridden(t *testing.T) {
	dalle := &fakeGenerator{name: ProviderDalle}
	svc := NewService([]string{"dalle"}, dalle)

	_, err := svc.Generate(context.Background(), "a cat", nil)
	assert.ErrorIs(t, err, ErrNoImage)
	assert.ErrorIs(t, err, provider.ErrMissingCredential)
	assert.EqualValues(t, 0, dalle.calls)

	res, err := svc.Generate(context.Background(), "a cat", map[string]string{"dalle": "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, ProviderDalle, res.Provider)
}

func TestServiceAllFail(t *testing.T) {
	svc := NewService(nil,
		&fakeGenerator{name: ProviderDalle, configured: true, genErr: &provider.APIError{Provider: "DALL-E API", StatusCode: 500}},
		&fakeGenerator{name: ProviderStability, configured: true, genErr: errors.New("boom")},
	)
	assert.Equal(t, []string{"dalle", "stability"}, svc.Order())

	_, err := svc.Generate(context.Background(), "a cat", nil)
	require.ErrorIs(t, err, ErrNoImage)
	apiErr, ok := provider.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, 500, apiErr.StatusCode)
}
