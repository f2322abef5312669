package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"novachat/pkg/ai"
)

const (
	imageSuccessText = "Here's the image I generated for you! 🎨"
	imageFailurePfx  = "Sorry, I couldn't generate that image: "
	textBusyText     = "⚠️ The AI service is busy right now. Please try again in a moment."
	textEmptyText    = "Sorry, I couldn't generate a response."
)

// Reply is the bot side of one exchange.
type Reply struct {
	Text     string
	ImageURL string
}

// Generate produces the bot reply for text. It never fails: provider
// problems become apology text so the exchange can still be stored.
func (a *App) Generate(ctx context.Context, accountID string, intent Intent, text string) Reply {
	switch intent.Kind {
	case IntentImage:
		return a.generateImage(ctx, accountID, ExtractImagePrompt(text))
	case IntentCreator:
		return Reply{Text: creatorAnswer}
	case IntentFAQ:
		if answer, ok := faqAnswers[intent.FAQKey]; ok {
			return Reply{Text: answer}
		}
	}
	return a.generateText(ctx, text)
}

func (a *App) generateText(ctx context.Context, text string) Reply {
	ctx, cancel := context.WithTimeout(ctx, a.generationTimeout)
	defer cancel()
	start := time.Now()
	out, err := a.text.GenerateText(ctx, a.systemPrompt, strings.TrimSpace(text))
	if err != nil {
		a.metrics.ObserveProvider("text", "error", time.Since(start))
		a.logger.ErrorContext(ctx, "text generation failed", "err", err)
		return Reply{Text: textBusyText}
	}
	out = strings.TrimSpace(out)
	if out == "" {
		a.metrics.ObserveProvider("text", "empty", time.Since(start))
		return Reply{Text: textEmptyText}
	}
	a.metrics.ObserveProvider("text", "ok", time.Since(start))
	return Reply{Text: out}
}

func (a *App) generateImage(ctx context.Context, accountID, prompt string) Reply {
	if a.image == nil {
		return Reply{Text: imageFailurePfx + "image generation is not configured"}
	}
	genCtx, cancel := context.WithTimeout(ctx, a.generationTimeout)
	defer cancel()
	start := time.Now()
	img, err := a.image.GenerateImage(genCtx, prompt)
	if err == nil && len(img.Data) == 0 {
		err = ai.ErrNoImage
	}
	if err != nil {
		a.metrics.ObserveProvider("image", "error", time.Since(start))
		a.logger.WarnContext(ctx, "image generation failed", "err", err)
		return Reply{Text: imageFailurePfx + imageErrorDetail(err)}
	}
	a.metrics.ObserveProvider("image", "ok", time.Since(start))

	url := img.DataURI()
	if a.images != nil {
		stored, err := a.images.Save(ctx, accountID, img)
		if err != nil {
			a.logger.WarnContext(ctx, "image archive failed, using inline image", "err", err)
		} else {
			url = stored
		}
	}
	return Reply{Text: imageSuccessText, ImageURL: url}
}

func imageErrorDetail(err error) string {
	var apiErr *ai.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Message != "":
		return apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return "the image service timed out"
	default:
		return err.Error()
	}
}
