/*
Copyright 2025 Kpata Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kpata

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/marcdevi/kpata/database"
	"github.com/marcdevi/kpata/internal/cache"
	"github.com/marcdevi/kpata/model"
)

const (
	routingCacheTTL = 5 * time.Minute

	defaultProviderName = "gemini"
	defaultModelName    = "gemini-2.0-flash"

	// PlaceholderModelName marks assets produced by the degraded path so the
	// admin surface can tell them apart from real generations.
	PlaceholderModelName = "placeholder"
)

// ModelRouter resolves which provider and model serve a category and runs
// the generation call with fallback. Routing rows are cached; a category
// without a row gets the default pairing rather than an error.
type ModelRouter struct {
	datasource     database.IDataSource
	cache          cache.Cache
	providers      map[string]ImageProvider
	defaultTimeout time.Duration
}

func NewModelRouter(datasource database.IDataSource, routingCache cache.Cache, providers map[string]ImageProvider, defaultTimeout time.Duration) *ModelRouter {
	return &ModelRouter{
		datasource:     datasource,
		cache:          routingCache,
		providers:      providers,
		defaultTimeout: defaultTimeout,
	}
}

// Route returns the active routing for a category.
func (r *ModelRouter) Route(ctx context.Context, category string) (*model.ModelRouting, error) {
	cacheKey := fmt.Sprintf("routing:%s", category)

	var cached model.ModelRouting
	if r.cache != nil {
		if err := r.cache.Get(ctx, cacheKey, &cached); err == nil && cached.Provider != "" {
			return &cached, nil
		}
	}

	routing, err := r.datasource.GetModelRouting(ctx, category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r.defaultRouting(category), nil
		}
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, cacheKey, routing, routingCacheTTL); err != nil {
			logrus.Warnf("failed to cache routing for %s: %v", category, err)
		}
	}
	return routing, nil
}

func (r *ModelRouter) defaultRouting(category string) *model.ModelRouting {
	return &model.ModelRouting{
		Category: category,
		Provider: defaultProviderName,
		Model:    defaultModelName,
		Timeout:  r.defaultTimeout,
		Active:   true,
	}
}

// Generate runs the routed generation call. The primary pairing gets the
// routing's timeout; if it fails or times out and a fallback pairing exists,
// the fallback is tried once with a fresh timeout. The returned provider and
// model name the pairing that actually produced the image.
func (r *ModelRouter) Generate(ctx context.Context, routing *model.ModelRouting, prompt string, sourceImage []byte) ([]byte, string, string, error) {
	timeout := routing.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	image, err := r.callProvider(ctx, routing.Provider, routing.Model, prompt, sourceImage, timeout)
	if err == nil {
		return image, routing.Provider, routing.Model, nil
	}

	if !routing.HasFallback() {
		return nil, "", "", err
	}

	logrus.Warnf("primary pairing %s/%s failed, trying fallback %s/%s: %v",
		routing.Provider, routing.Model, routing.FallbackProvider, routing.FallbackModel, err)

	image, fbErr := r.callProvider(ctx, routing.FallbackProvider, routing.FallbackModel, prompt, sourceImage, timeout)
	if fbErr != nil {
		return nil, "", "", errors.Wrapf(fbErr, "fallback failed after primary error: %v", err)
	}
	return image, routing.FallbackProvider, routing.FallbackModel, nil
}

func (r *ModelRouter) callProvider(ctx context.Context, providerName, modelName, prompt string, sourceImage []byte, timeout time.Duration) ([]byte, error) {
	provider, ok := r.providers[providerName]
	if !ok {
		return nil, errors.Errorf("provider %s is not configured", providerName)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return provider.Generate(callCtx, modelName, prompt, sourceImage)
}

// BuildPrompt renders the generation prompt for a job. A routing row may
// carry its own template with {category}, {background}, {mannequin} and
// {custom} placeholders; without one a built-in product-photo template is
// used. The user's custom prompt is always appended last so it cannot
// override the framing instructions.
func BuildPrompt(message *model.WorkMessage, routing *model.ModelRouting) string {
	if routing != nil && routing.PromptTemplate != "" {
		replacer := strings.NewReplacer(
			"{category}", message.Category,
			"{background}", message.BackgroundStyle,
			"{mannequin}", message.MannequinMode,
			"{custom}", message.CustomPrompt,
		)
		return strings.TrimSpace(replacer.Replace(routing.PromptTemplate))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Professional product photo of a %s item", message.Category)
	if message.BackgroundStyle != "" {
		fmt.Fprintf(&b, " on a %s background", message.BackgroundStyle)
	}
	if message.MannequinMode != "" && message.MannequinMode != "none" {
		fmt.Fprintf(&b, ", worn on a %s mannequin", message.MannequinMode)
	}
	b.WriteString(". Studio lighting, sharp focus, e-commerce quality.")
	if message.CustomPrompt != "" {
		b.WriteString(" ")
		b.WriteString(message.CustomPrompt)
	}
	return b.String()
}

// PlaceholderImage renders the flat-colored stand-in used when every
// generation pairing failed. The color is derived from the job id so retries
// of the same job produce identical bytes.
func PlaceholderImage(jobID string, width, height int) ([]byte, error) {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(jobID))
	seed := hasher.Sum32()

	fill := color.RGBA{
		R: uint8(80 + seed%120),
		G: uint8(80 + (seed>>8)%120),
		B: uint8(80 + (seed>>16)%120),
		A: 255,
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, fill)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
