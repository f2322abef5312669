package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
)

// TextGenerator generates text from a system prompt and user prompt.
// Gemini, Ollama and OpenAI-compatible backends implement it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageGenerator turns a prompt into image bytes.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (Image, error)
}

// ErrNoImage means the provider answered but carried no image payload.
var ErrNoImage = errors.New("the model did not return an image. Your API plan may not include image generation")

const defaultImageMIME = "image/png"

// Image is a generated picture.
type Image struct {
	Data     []byte
	MIMEType string
}

// DataURI renders the image inline, e.g. "data:image/png;base64,....".
func (i Image) DataURI() string {
	mime := strings.TrimSpace(i.MIMEType)
	if mime == "" {
		mime = defaultImageMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Extension guesses a file extension for object storage keys.
func (i Image) Extension() string {
	switch strings.ToLower(strings.TrimSpace(i.MIMEType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s api error: status %d", e.Provider, e.StatusCode)
}

// LimitText throttles calls to g through a shared token bucket. A call that
// cannot get a token before ctx ends fails without reaching the provider.
func LimitText(g TextGenerator, limiter *rate.Limiter) TextGenerator {
	if limiter == nil {
		return g
	}
	return &limitedText{next: g, limiter: limiter}
}

// LimitImage is LimitText for image generation.
func LimitImage(g ImageGenerator, limiter *rate.Limiter) ImageGenerator {
	if limiter == nil {
		return g
	}
	return &limitedImage{next: g, limiter: limiter}
}

type limitedText struct {
	next    TextGenerator
	limiter *rate.Limiter
}

func (l *limitedText) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("provider throttled: %w", err)
	}
	return l.next.GenerateText(ctx, systemPrompt, userPrompt)
}

type limitedImage struct {
	next    ImageGenerator
	limiter *rate.Limiter
}

func (l *limitedImage) GenerateImage(ctx context.Context, prompt string) (Image, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Image{}, fmt.Errorf("provider throttled: %w", err)
	}
	return l.next.GenerateImage(ctx, prompt)
}
