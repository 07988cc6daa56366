package kpata

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/model"
)

func TestRouteReturnsConfiguredPairing(t *testing.T) {
	ds := newFakeDataSource()
	ds.routings["clothing"] = &model.ModelRouting{
		Category: "clothing", Provider: "openai", Model: "gpt-image-1",
		Timeout: 30 * time.Second, Active: true,
	}

	router := NewModelRouter(ds, nil, nil, 60*time.Second)
	routing, err := router.Route(context.Background(), "clothing")
	require.NoError(t, err)
	assert.Equal(t, "openai", routing.Provider)
	assert.Equal(t, "gpt-image-1", routing.Model)
}

func TestRouteDefaultsWhenCategoryUnconfigured(t *testing.T) {
	ds := newFakeDataSource()

	router := NewModelRouter(ds, nil, nil, 60*time.Second)
	routing, err := router.Route(context.Background(), "electronics")
	require.NoError(t, err)
	assert.Equal(t, defaultProviderName, routing.Provider)
	assert.Equal(t, defaultModelName, routing.Model)
	assert.Equal(t, 60*time.Second, routing.Timeout)
}

func TestGenerateUsesFallbackPairing(t *testing.T) {
	sample, err := PlaceholderImage("fallback", 32, 32)
	require.NoError(t, err)

	primary := &fakeProvider{name: "gemini", err: errors.New("quota exceeded")}
	fallback := &fakeProvider{name: "openai", image: sample}
	providers := map[string]ImageProvider{"gemini": primary, "openai": fallback}

	router := NewModelRouter(newFakeDataSource(), nil, providers, 5*time.Second)
	routing := &model.ModelRouting{
		Provider: "gemini", Model: "gemini-2.0-flash",
		FallbackProvider: "openai", FallbackModel: "gpt-image-1",
		Timeout: time.Second,
	}

	image, provider, modelName, err := router.Generate(context.Background(), routing, "a prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, sample, image)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "gpt-image-1", modelName)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestGenerateFailsWithoutFallback(t *testing.T) {
	primary := &fakeProvider{name: "gemini", err: errors.New("quota exceeded")}
	router := NewModelRouter(newFakeDataSource(), nil, map[string]ImageProvider{"gemini": primary}, 5*time.Second)

	_, _, _, err := router.Generate(context.Background(),
		&model.ModelRouting{Provider: "gemini", Model: "gemini-2.0-flash", Timeout: time.Second}, "a prompt", nil)
	require.Error(t, err)
}

func TestGenerateUnknownProvider(t *testing.T) {
	router := NewModelRouter(newFakeDataSource(), nil, map[string]ImageProvider{}, 5*time.Second)
	_, _, _, err := router.Generate(context.Background(),
		&model.ModelRouting{Provider: "missing", Model: "x", Timeout: time.Second}, "a prompt", nil)
	require.Error(t, err)
}

func TestBuildPromptDefaultTemplate(t *testing.T) {
	prompt := BuildPrompt(&model.WorkMessage{
		Category: "clothing", BackgroundStyle: "marble", MannequinMode: "ghost", CustomPrompt: "add soft shadows",
	}, nil)

	assert.Contains(t, prompt, "clothing")
	assert.Contains(t, prompt, "marble")
	assert.Contains(t, prompt, "ghost mannequin")
	assert.Contains(t, prompt, "add soft shadows")
}

func TestBuildPromptCustomTemplate(t *testing.T) {
	routing := &model.ModelRouting{PromptTemplate: "Photo of {category} on {background}. {custom}"}
	prompt := BuildPrompt(&model.WorkMessage{Category: "shoes", BackgroundStyle: "studio", CustomPrompt: "low angle"}, routing)
	assert.Equal(t, "Photo of shoes on studio. low angle", prompt)
}

func TestHTTPImageProviderGenerate(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	sample, err := PlaceholderImage("http-test", 16, 16)
	require.NoError(t, err)

	httpmock.RegisterResponder("POST", "https://provider.test/generate",
		httpmock.NewJsonResponderOrPanic(200, map[string]string{
			"image": base64.StdEncoding.EncodeToString(sample),
		}))

	provider := NewHTTPImageProvider("gemini", config.ProviderConfig{ApiUrl: "https://provider.test/generate", ApiKey: "key"})
	image, err := provider.Generate(context.Background(), "gemini-2.0-flash", "a prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, sample, image)
}

func TestHTTPImageProviderUpstreamError(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://provider.test/generate",
		httpmock.NewJsonResponderOrPanic(500, map[string]string{"error": "model overloaded"}))

	provider := NewHTTPImageProvider("gemini", config.ProviderConfig{ApiUrl: "https://provider.test/generate", ApiKey: "key"})
	_, err := provider.Generate(context.Background(), "gemini-2.0-flash", "a prompt", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestHTTPNSFWChecker(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", "https://nsfw.test/check",
		httpmock.NewJsonResponderOrPanic(200, map[string]interface{}{"flagged": true, "label": "nudity"}))

	checker := NewHTTPNSFWChecker(&config.Configuration{
		Generation: config.GenerationConfig{NSFWCheckUrl: "https://nsfw.test/check", NSFWCheckKey: "key"},
	})
	require.NotNil(t, checker)

	flagged, label, err := checker.Check(context.Background(), []byte{0x01})
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, "nudity", label)
}

func TestNSFWCheckerDisabledWithoutURL(t *testing.T) {
	assert.Nil(t, NewHTTPNSFWChecker(&config.Configuration{}))
}
