package kpata

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/pkg/errors"

	"github.com/marcdevi/kpata/config"
	"github.com/marcdevi/kpata/internal/request"
)

// ImageProvider is one upstream image-generation API. Implementations are
// stateless; the router owns timeouts and fallback between providers.
type ImageProvider interface {
	Name() string
	Generate(ctx context.Context, model, prompt string, sourceImage []byte) ([]byte, error)
}

// HTTPImageProvider calls a JSON generation endpoint. The wire contract is
// shared by all configured providers: the model name, the prompt and the
// base64 source image go out, a base64 result image comes back.
type HTTPImageProvider struct {
	name   string
	apiURL string
	apiKey string
}

type generateRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	SourceImage string `json:"source_image,omitempty"`
}

type generateResponse struct {
	Image string `json:"image"`
	Error string `json:"error,omitempty"`
}

func NewHTTPImageProvider(name string, conf config.ProviderConfig) *HTTPImageProvider {
	return &HTTPImageProvider{name: name, apiURL: conf.ApiUrl, apiKey: conf.ApiKey}
}

// NewProvidersFromConfig builds the provider registry keyed by provider name.
func NewProvidersFromConfig(conf *config.Configuration) map[string]ImageProvider {
	providers := make(map[string]ImageProvider, len(conf.Generation.Providers))
	for name, providerConf := range conf.Generation.Providers {
		providers[name] = NewHTTPImageProvider(name, providerConf)
	}
	return providers
}

func (p *HTTPImageProvider) Name() string {
	return p.name
}

func (p *HTTPImageProvider) Generate(ctx context.Context, model, prompt string, sourceImage []byte) ([]byte, error) {
	payload := generateRequest{Model: model, Prompt: prompt}
	if len(sourceImage) > 0 {
		payload.SourceImage = base64.StdEncoding.EncodeToString(sourceImage)
	}

	body, err := request.ToJsonReq(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))

	var response generateResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		return nil, errors.Wrapf(err, "provider %s call failed", p.name)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("provider %s returned %d: %s", p.name, resp.StatusCode, response.Error)
	}

	image, err := base64.StdEncoding.DecodeString(response.Image)
	if err != nil {
		return nil, errors.Wrapf(err, "provider %s returned invalid image payload", p.name)
	}
	if len(image) == 0 {
		return nil, errors.Errorf("provider %s returned an empty image", p.name)
	}
	return image, nil
}

// NSFWChecker screens an uploaded image before any credit is spent on it.
type NSFWChecker interface {
	Check(ctx context.Context, image []byte) (flagged bool, label string, err error)
}

// HTTPNSFWChecker calls an external moderation endpoint.
type HTTPNSFWChecker struct {
	apiURL string
	apiKey string
}

type nsfwResponse struct {
	Flagged bool   `json:"flagged"`
	Label   string `json:"label,omitempty"`
}

// NewHTTPNSFWChecker returns nil when no endpoint is configured; admission
// then skips the pre-check entirely.
func NewHTTPNSFWChecker(conf *config.Configuration) NSFWChecker {
	if conf.Generation.NSFWCheckUrl == "" {
		return nil
	}
	return &HTTPNSFWChecker{apiURL: conf.Generation.NSFWCheckUrl, apiKey: conf.Generation.NSFWCheckKey}
}

func (c *HTTPNSFWChecker) Check(ctx context.Context, image []byte) (bool, string, error) {
	body, err := request.ToJsonReq(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return false, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	var response nsfwResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		return false, "", errors.Wrap(err, "nsfw check call failed")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return false, "", errors.Errorf("nsfw check returned %d", resp.StatusCode)
	}
	return response.Flagged, response.Label, nil
}
