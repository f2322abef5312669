package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"novachat/pkg/ai"
)

func TestGenerateTextReplies(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()

	reply := d.app.Generate(ctx, "acct", Classify("  tell me a joke "), "  tell me a joke ")
	if reply.Text != "Hello from the model" || reply.ImageURL != "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if d.text.prompt != "tell me a joke" {
		t.Fatalf("prompt not trimmed: %q", d.text.prompt)
	}

	d.text.out = "   "
	if reply := d.app.Generate(ctx, "acct", Classify("hi"), "hi"); reply.Text != textEmptyText {
		t.Fatalf("expected empty-answer text, got %q", reply.Text)
	}

	d.text.err = errors.New("upstream 503")
	if reply := d.app.Generate(ctx, "acct", Classify("hi"), "hi"); reply.Text != textBusyText {
		t.Fatalf("expected busy text, got %q", reply.Text)
	}
}

func TestGenerateCannedAnswersSkipProvider(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()

	if reply := d.app.Generate(ctx, "acct", Classify("Who made you?"), "Who made you?"); reply.Text != creatorAnswer {
		t.Fatalf("creator reply = %q", reply.Text)
	}
	q := "What is your name?"
	reply := d.app.Generate(ctx, "acct", Classify(q), q)
	if reply.Text != faqAnswers["what is your name?"] {
		t.Fatalf("faq reply = %q", reply.Text)
	}
	if d.text.calls != 0 {
		t.Fatalf("canned answers must not call the provider, got %d calls", d.text.calls)
	}
}

func TestGenerateImageInline(t *testing.T) {
	d := newTestApp(t)
	text := "draw a cat in space"
	reply := d.app.Generate(context.Background(), "acct", Classify(text), text)
	if reply.Text != imageSuccessText {
		t.Fatalf("reply text = %q", reply.Text)
	}
	if !strings.HasPrefix(reply.ImageURL, "data:image/png;base64,") {
		t.Fatalf("expected data uri, got %q", reply.ImageURL)
	}
	if d.image.prompt != "a cat in space" {
		t.Fatalf("image prompt = %q", d.image.prompt)
	}
	if d.text.calls != 0 {
		t.Fatalf("image requests must not call the text provider")
	}
}

func TestGenerateImageArchive(t *testing.T) {
	archive := &fakeArchive{url: "https://cdn.example.com/generated/acct/x.png"}
	d := newTestApp(t, func(c *Config) { c.Images = archive })
	text := "generate an image of a red fox"

	reply := d.app.Generate(context.Background(), "acct", Classify(text), text)
	if reply.ImageURL != archive.url {
		t.Fatalf("expected archived url, got %q", reply.ImageURL)
	}

	archive.err = errors.New("bucket unavailable")
	reply = d.app.Generate(context.Background(), "acct", Classify(text), text)
	if reply.Text != imageSuccessText || !strings.HasPrefix(reply.ImageURL, "data:") {
		t.Fatalf("archive failure should fall back to inline image: %+v", reply)
	}
}

func TestGenerateImageFailures(t *testing.T) {
	d := newTestApp(t)
	ctx := context.Background()
	text := "draw a dragon"

	d.image.err = &ai.APIError{Provider: "gemini", StatusCode: 429, Message: "quota exceeded"}
	reply := d.app.Generate(ctx, "acct", Classify(text), text)
	if reply.Text != imageFailurePfx+"quota exceeded" || reply.ImageURL != "" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	d.image.err = nil
	d.image.img = ai.Image{}
	reply = d.app.Generate(ctx, "acct", Classify(text), text)
	if reply.Text != imageFailurePfx+ai.ErrNoImage.Error() {
		t.Fatalf("empty image reply = %q", reply.Text)
	}

	d.image.err = context.DeadlineExceeded
	reply = d.app.Generate(ctx, "acct", Classify(text), text)
	if reply.Text != imageFailurePfx+"the image service timed out" {
		t.Fatalf("timeout reply = %q", reply.Text)
	}

	noImage := newTestApp(t, func(c *Config) { c.Image = nil })
	reply = noImage.app.Generate(ctx, "acct", Classify(text), text)
	if !strings.HasPrefix(reply.Text, imageFailurePfx) {
		t.Fatalf("expected failure text without an image generator, got %q", reply.Text)
	}
}
